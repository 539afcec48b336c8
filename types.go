package postxfer

// TransferBox carries what the record editor needs to render the export and
// import controls of one record.
type TransferBox struct {
	PostID      int64
	ExportToken string // action token for export_post
	ImportToken string // action token for import_post
}

// Action names bound into action tokens.
const (
	actionExport = "export_post"
	actionImport = "import_post"
)
