// Package extractors wires the per-kind extractors into a closed set.
//
// Each subpackage turns the bytes of one source kind into records:
//
//   - tabular: xlsx workbooks, one record per row
//   - delimited: CSV and TSV, one record per row
//   - structured: JSON arrays, objects and scalars
//   - document: docx, pdf and html, one content record
//   - plaintext: txt and md, one content record
//
// The supported kinds are fixed and validated at upload time, so dispatch
// is a switch over domain.SourceKind rather than a dynamic registry.
package extractors
