// Package challenge defines study challenge templates and the registry that
// decodes them from archived snippets by type tag.
package challenge

import (
	"sort"
	"sync"

	"github.com/kimhsiao/notearchive/internal/errors"
)

// Challenge is one prompt/answer pair produced by a template.
type Challenge struct {
	Prompt string
	Answer string
}

// Template is a source of challenges extracted from a page. Encode returns
// the payload stored in the archive; the registry decoder for Type must
// accept it.
type Template interface {
	Type() string
	Encode() string
	Challenges() []Challenge
}

// Decoder rebuilds a template from its encoded payload.
type Decoder func(payload string) (Template, error)

// Registry maps type tags to decoders.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry with the built-in template types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(ClozeType, DecodeCloze)
	r.MustRegister(QuestionAnswerType, DecodeQuestionAnswer)
	return r
}

// Register adds a decoder for tag. Registering a tag twice is an error.
func (r *Registry) Register(tag string, dec Decoder) error {
	if tag == "" || dec == nil {
		return errors.New(errors.ErrInvalid, "template tag and decoder are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[tag]; exists {
		return errors.Newf(errors.ErrInvalid, "template type %q already registered", tag)
	}
	r.decoders[tag] = dec
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tag string, dec Decoder) {
	if err := r.Register(tag, dec); err != nil {
		panic(err)
	}
}

// Decode decodes payload with the decoder registered for tag. An unknown tag
// returns NO_SUCH_TEMPLATE_CLASS.
func (r *Registry) Decode(tag, payload string) (Template, error) {
	r.mu.RLock()
	dec, ok := r.decoders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrNoSuchTemplateClass, "no template type %q", tag)
	}
	return dec(payload)
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.decoders))
	for tag := range r.decoders {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
