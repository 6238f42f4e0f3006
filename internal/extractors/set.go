package extractors

import (
	"fmt"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/extractors/delimited"
	"github.com/custodia-labs/knowledgehub/internal/extractors/document"
	"github.com/custodia-labs/knowledgehub/internal/extractors/plaintext"
	"github.com/custodia-labs/knowledgehub/internal/extractors/structured"
	"github.com/custodia-labs/knowledgehub/internal/extractors/tabular"
)

// Ensure Set implements the interface.
var _ driven.ExtractorSet = (*Set)(nil)

// Set holds one extractor per source kind.
type Set struct {
	tabular    *tabular.Extractor
	delimited  *delimited.Extractor
	structured *structured.Extractor
	document   *document.Extractor
	text       *plaintext.Extractor
}

// NewSet creates the extractor set. The document extractor may be
// customised, for example with a different PDF tool runner.
func NewSet(doc *document.Extractor) *Set {
	if doc == nil {
		doc = document.New()
	}
	return &Set{
		tabular:    tabular.New(),
		delimited:  delimited.New(),
		structured: structured.New(),
		document:   doc,
		text:       plaintext.New(),
	}
}

// For returns the extractor of a kind.
func (s *Set) For(kind domain.SourceKind) (driven.Extractor, error) {
	switch kind {
	case domain.KindTabular:
		return s.tabular, nil
	case domain.KindDelimited:
		return s.delimited, nil
	case domain.KindStructured:
		return s.structured, nil
	case domain.KindDocument:
		return s.document, nil
	case domain.KindText:
		return s.text, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", domain.ErrUnsupportedFormat, kind)
	}
}
