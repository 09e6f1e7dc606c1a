package chat

// OperationKind is the verb of a file operation
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// FileOperation is one entry of a file-operation batch as emitted by the
// assistant inside a json:files fenced block:
//
//	[{"operation": "create", "path": "src/App.jsx", "content": "..."}]
type FileOperation struct {
	Operation OperationKind `json:"operation"`
	Path      string        `json:"path"`
	Content   *string       `json:"content,omitempty"`
}
