// Package report exports classification and mapping results.
//
// Three artifacts are produced:
//   - an ATT&CK Navigator layer (JSON) with one scored, colored technique per
//     entry of a mitre.Summary, importable at
//     https://mitre-attack.github.io/attack-navigator/
//   - CSV tables of mappings, classifications and the technique summary
//   - an executive summary in Markdown, optionally rendered to HTML
//
// WriteFiles writes all artifacts of the requested formats to a directory.
package report
