package vault

import (
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"axiomvault/vaulterr"
)

// NodeKind distinguishes files from directories in the logical tree.
type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
)

// NodeMetadata is the per-node metadata carried alongside the tree shape.
// ETag is a fresh UUID stamped at node-creation time and replaced with a
// timestamp by each UpdateFile; it is distinct from the sync engine's own
// per-path etag tracking.
type NodeMetadata struct {
	Name         string     `json:"name"`
	EncryptedName string    `json:"encrypted_name"`
	Kind         NodeKind   `json:"kind"`
	Size         *int64     `json:"size,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ModifiedAt   time.Time  `json:"modified_at"`
	ETag         string     `json:"etag,omitempty"`
}

// TreeNode is a recursive directory/file node. Invariants: children.key ==
// child.Metadata.Name for every child; a File has no children; Size is
// present iff Kind == KindFile.
type TreeNode struct {
	ID       string               `json:"id"`
	Metadata NodeMetadata         `json:"metadata"`
	Children map[string]*TreeNode `json:"children,omitempty"`
}

func newNode(name, encryptedName string, kind NodeKind) *TreeNode {
	now := time.Now().UTC()
	n := &TreeNode{
		ID: uuid.NewString(),
		Metadata: NodeMetadata{
			Name:          name,
			EncryptedName: encryptedName,
			Kind:          kind,
			CreatedAt:     now,
			ModifiedAt:    now,
			ETag:          uuid.NewString(),
		},
	}
	if kind == KindDirectory {
		n.Children = make(map[string]*TreeNode)
	}
	return n
}

func NewFileNode(name, encryptedName string, size int64) *TreeNode {
	n := newNode(name, encryptedName, KindFile)
	n.Metadata.Size = &size
	return n
}

func NewDirectoryNode(name, encryptedName string) *TreeNode {
	return newNode(name, encryptedName, KindDirectory)
}

func (n *TreeNode) IsFile() bool      { return n.Metadata.Kind == KindFile }
func (n *TreeNode) IsDirectory() bool { return n.Metadata.Kind == KindDirectory }

func (n *TreeNode) GetChild(name string) *TreeNode {
	if n.Children == nil {
		return nil
	}
	return n.Children[name]
}

func (n *TreeNode) AddChild(child *TreeNode) error {
	if !n.IsDirectory() {
		return vaulterr.InvalidInputf("cannot add child to a file node")
	}
	if _, exists := n.Children[child.Metadata.Name]; exists {
		return vaulterr.AlreadyExistsf("child %q already exists", child.Metadata.Name)
	}
	n.Children[child.Metadata.Name] = child
	return nil
}

func (n *TreeNode) RemoveChild(name string) error {
	if !n.IsDirectory() {
		return vaulterr.InvalidInputf("cannot remove child from a file node")
	}
	if _, exists := n.Children[name]; !exists {
		return vaulterr.NotFoundf("child %q not found", name)
	}
	delete(n.Children, name)
	return nil
}

func (n *TreeNode) ListChildren() []*TreeNode {
	out := make([]*TreeNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c)
	}
	return out
}

// VaultPath is an ordered sequence of non-empty path components.
// Root is the empty sequence.
type VaultPath []string

// ParseVaultPath parses a "/a/b/c" form path, canonicalizing leading and
// trailing separators away.
func ParseVaultPath(p string) VaultPath {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" || cleaned == "." {
		return VaultPath{}
	}
	parts := strings.Split(strings.Trim(cleaned, "/"), "/")
	out := make(VaultPath, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p VaultPath) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join(p, "/")
}

func (p VaultPath) Parent() VaultPath {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

func (p VaultPath) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// VaultTree is the in-memory hierarchical directory/file model.
type VaultTree struct {
	Root *TreeNode `json:"root"`
}

func NewVaultTree() *VaultTree {
	root := newNode("", "", KindDirectory)
	return &VaultTree{Root: root}
}

// GetNode walks the tree to the node at path, or returns a NotFound error.
func (t *VaultTree) GetNode(p VaultPath) (*TreeNode, error) {
	node := t.Root
	for _, segment := range p {
		if !node.IsDirectory() {
			return nil, vaulterr.NotFoundf("path %q: %q is not a directory", p, node.Metadata.Name)
		}
		child := node.GetChild(segment)
		if child == nil {
			return nil, vaulterr.NotFoundf("path %q not found", p)
		}
		node = child
	}
	return node, nil
}

// GetParent returns the parent directory node of p, requiring it to exist
// and be a directory.
func (t *VaultTree) GetParent(p VaultPath) (*TreeNode, error) {
	if len(p) == 0 {
		return nil, vaulterr.InvalidInputf("root has no parent")
	}
	parent, err := t.GetNode(p.Parent())
	if err != nil {
		return nil, vaulterr.NotFoundf("parent of %q not found", p)
	}
	if !parent.IsDirectory() {
		return nil, vaulterr.InvalidInputf("parent of %q is not a directory", p)
	}
	return parent, nil
}

func (t *VaultTree) Exists(p VaultPath) bool {
	_, err := t.GetNode(p)
	return err == nil
}

// CreateFile inserts a new file node under p's parent. Requires parent
// present & directory, and child absent.
func (t *VaultTree) CreateFile(p VaultPath, encryptedName string, size int64) (*TreeNode, error) {
	parent, err := t.GetParent(p)
	if err != nil {
		return nil, err
	}
	name := p.Name()
	if parent.GetChild(name) != nil {
		return nil, vaulterr.AlreadyExistsf("%q already exists", p)
	}
	node := NewFileNode(name, encryptedName, size)
	if err := parent.AddChild(node); err != nil {
		return nil, err
	}
	return node, nil
}

// CreateDirectory inserts a new directory node under p's parent.
func (t *VaultTree) CreateDirectory(p VaultPath, encryptedName string) (*TreeNode, error) {
	parent, err := t.GetParent(p)
	if err != nil {
		return nil, err
	}
	name := p.Name()
	if parent.GetChild(name) != nil {
		return nil, vaulterr.AlreadyExistsf("%q already exists", p)
	}
	node := NewDirectoryNode(name, encryptedName)
	if err := parent.AddChild(node); err != nil {
		return nil, err
	}
	return node, nil
}

// Remove deletes the node at p. Removing a non-empty directory fails.
func (t *VaultTree) Remove(p VaultPath) error {
	if len(p) == 0 {
		return vaulterr.InvalidInputf("cannot remove root")
	}
	node, err := t.GetNode(p)
	if err != nil {
		return err
	}
	if node.IsDirectory() && len(node.Children) > 0 {
		return vaulterr.InvalidInputf("directory %q is not empty", p)
	}
	parent, err := t.GetParent(p)
	if err != nil {
		return err
	}
	return parent.RemoveChild(p.Name())
}

// ChildInfo is the read-only projection list_directory returns: (name,
// is_dir, size?) triples.
type ChildInfo struct {
	Name  string
	IsDir bool
	Size  *int64
}

// List returns (name, is_dir, size?) triples for the directory at p.
func (t *VaultTree) List(p VaultPath) ([]ChildInfo, error) {
	node, err := t.GetNode(p)
	if err != nil {
		return nil, err
	}
	if !node.IsDirectory() {
		return nil, vaulterr.InvalidInputf("%q is not a directory", p)
	}
	out := make([]ChildInfo, 0, len(node.Children))
	for _, c := range node.Children {
		out = append(out, ChildInfo{Name: c.Metadata.Name, IsDir: c.IsDirectory(), Size: c.Metadata.Size})
	}
	return out, nil
}

func (t *VaultTree) CountFiles() int {
	var count int
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if n.IsFile() {
			count++
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return count
}

func (t *VaultTree) TotalSize() int64 {
	var total int64
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if n.IsFile() {
			if n.Metadata.Size != nil {
				total += *n.Metadata.Size
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t.Root)
	return total
}

func (t *VaultTree) ToJSON() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, vaulterr.SerializationWrap(err, "marshal tree")
	}
	return data, nil
}

func TreeFromJSON(data []byte) (*VaultTree, error) {
	var t VaultTree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, vaulterr.SerializationWrap(err, "unmarshal tree")
	}
	if t.Root == nil {
		t.Root = newNode("", "", KindDirectory)
	}
	return &t, nil
}
