package index

import "time"

// Box is a single encrypted storage container, owned by one local user.
type Box struct {
	BoxID       string
	Name        string
	Owner       string
	OwnerID     string
	CreatedAt   time.Time
	IsPublic    bool
	KDFSalt     []byte
	WrappedDEK  []byte
	SoftDeleted bool
}

// File is a named entry inside a Box, pointing at its current Version.
type File struct {
	FileID           string
	BoxID            string
	Name             string
	Description      string
	CurrentVersionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SoftDeleted      bool
	Tags             []string
}

// Version is one immutable snapshot of a File's content.
type Version struct {
	VersionID string
	FileID    string
	BoxID     string
	BlobHash  string
	Size      int64
	Mime      string
	FileType  string
	CreatedAt time.Time
	Seq       int
}

// Blob is a refcounted ciphertext payload shared by every Version with the
// same plaintext hash.
type Blob struct {
	BoxID      string
	BlobHash   string
	RefCount   int
	Nonce      []byte
	Tag        []byte
	CTSize     int64
	PathOnDisk string
}
