package converter

import (
	"fmt"
	"os/exec"
	"sync"

	"pdfconvapi/config"
	"pdfconvapi/task"

	"go.uber.org/zap"
)

// OptionSpec describes one conversion option in the capability listing.
type OptionSpec struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Min         int         `json:"min,omitempty"`
	Max         int         `json:"max,omitempty"`
	Description string      `json:"description"`
}

// Capability is one entry of GET /conversion.
type Capability struct {
	Name        string       `json:"name"`
	Extension   string       `json:"extension"`
	Description string       `json:"description"`
	Options     []OptionSpec `json:"options"`
	Available   bool         `json:"available"`
}

var (
	pagesOption   = OptionSpec{Name: "pages", Type: "string", Description: "Page selection such as 1,3-5,7; all pages when empty"}
	layoutOption  = OptionSpec{Name: "preserve_layout", Type: "boolean", Default: true, Description: "Keep the original page layout"}
	qualityOption = OptionSpec{Name: "quality", Type: "integer", Default: task.DefaultQuality, Min: 1, Max: 100, Description: "JPEG quality"}
	dpiOption     = OptionSpec{Name: "dpi", Type: "integer", Default: task.DefaultDPI, Min: 72, Max: 600, Description: "Rendering resolution"}
)

var capabilities = map[task.Format]Capability{
	task.FormatDOCX: {Name: "docx", Extension: ".docx", Description: "Microsoft Word document", Options: []OptionSpec{pagesOption}},
	task.FormatJPEG: {Name: "jpeg", Extension: ".jpg", Description: "JPEG image per page, zipped when more than one", Options: []OptionSpec{pagesOption, qualityOption, dpiOption}},
	task.FormatPPT:  {Name: "ppt", Extension: ".pptx", Description: "Microsoft PowerPoint presentation", Options: []OptionSpec{pagesOption}},
	task.FormatHTML: {Name: "html", Extension: ".zip", Description: "HTML document with its assets", Options: []OptionSpec{pagesOption, layoutOption}},
}

type availability interface {
	Available() bool
}

// Registry maps each target format to its converter.
type Registry struct {
	mu         sync.RWMutex
	converters map[task.Format]task.Converter
}

func NewRegistry() *Registry {
	return &Registry{converters: make(map[task.Format]task.Converter)}
}

func (r *Registry) Register(f task.Format, c task.Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[f] = c
}

func (r *Registry) Lookup(f task.Format) (task.Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[f]
	if !ok {
		return nil, task.NewConversionError(f, fmt.Errorf("no converter registered for format %q", f))
	}
	return c, nil
}

// Capabilities lists every supported format in a stable order.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(task.Formats))
	for _, f := range task.Formats {
		c := capabilities[f]
		if conv, ok := r.converters[f]; ok {
			c.Available = true
			if a, ok := conv.(availability); ok {
				c.Available = a.Available()
			}
		}
		out = append(out, c)
	}
	return out
}

// NewDefaultRegistry wires the external-tool converters from configuration.
func NewDefaultRegistry(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	office, err := ParseTemplate(cfg.OfficeCommand)
	if err != nil {
		return nil, fmt.Errorf("OFFICE_COMMAND: %w", err)
	}
	html, err := ParseTemplate(cfg.HTMLCommand)
	if err != nil {
		return nil, fmt.Errorf("HTML_COMMAND: %w", err)
	}
	raster, err := ParseTemplate(cfg.RasterCommand)
	if err != nil {
		return nil, fmt.Errorf("RASTER_COMMAND: %w", err)
	}

	logger = logger.Named("converter")
	r := NewRegistry()
	r.Register(task.FormatDOCX, NewDOCX(office, cfg.DocxFilter, logger))
	r.Register(task.FormatPPT, NewPPT(office, cfg.PPTFilter, logger))
	r.Register(task.FormatHTML, NewHTML(html, logger))
	r.Register(task.FormatJPEG, NewJPEG(raster, cfg.JPEGParallelism, logger))

	for _, tpl := range []*Template{office, html, raster} {
		if !available(tpl) {
			logger.Warn("converter binary not found in PATH", zap.String("binary", tpl.Binary()))
		}
	}
	return r, nil
}

func available(tpl *Template) bool {
	_, err := exec.LookPath(tpl.Binary())
	return err == nil
}
