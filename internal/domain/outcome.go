package domain

// FileState is the lifecycle position of one input file.
type FileState string

const (
	FileDiscovered FileState = "discovered"
	FileHeaderRead FileState = "header_read"
	FileStreaming  FileState = "streaming"
	FileFinalized  FileState = "finalized"
	FileDeleted    FileState = "deleted"
	FileRetained   FileState = "retained"
)

// ProcessingOutcome summarizes one processed file. CompletedPath and
// ErrorPath are empty when the archive was removed for being header-only.
type ProcessingOutcome struct {
	File          string
	SuccessLines  int
	ErrorLines    int
	CompletedPath string
	ErrorPath     string
	State         FileState
	Err           error
}
