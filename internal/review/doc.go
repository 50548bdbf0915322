// Package review holds the data model shared by every pipeline stage.
//
// It defines [ChangedFile] and [Finding], the severity taxonomy that maps
// tool and analyzer severity terms onto SARIF levels ([MapLevel]), stable
// finding ordering ([SortFindings]) and validation of the required finding
// field set ([Validate]). Findings that fail validation are reported as
// [MalformedFindingError] and dropped by the report builder.
package review
