package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// writeArchive zips files, given relative to root, into dst. A partial
// archive is removed on failure.
func writeArchive(dst, root string, files []string) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addToArchive(zw, root, name); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addToArchive(zw *zip.Writer, root, name string) error {
	if !filepath.IsLocal(name) {
		return fmt.Errorf("archive entry %q escapes the output directory", name)
	}
	src := filepath.Join(root, name)

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	return nil
}
