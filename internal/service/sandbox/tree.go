package sandbox

import (
	"encoding/json"
	"iter"
	"slices"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

// TreeEntry is one row of the explorer view
type TreeEntry struct {
	Path     string              `json:"path"`
	Name     string              `json:"name"`
	Depth    int                 `json:"depth"`
	IsDir    bool                `json:"is_dir"`
	Language chatModels.Language `json:"language,omitempty"`
}

// TreeNode is the nested form of the explorer view
type TreeNode struct {
	Name     string              `json:"name"`
	Path     string              `json:"path"`
	IsDir    bool                `json:"is_dir"`
	Language chatModels.Language `json:"language,omitempty"`
	Children []*TreeNode         `json:"children,omitempty"`
}

// Tree is a read-only hierarchical view over a flat file map.
// Directories exist only in the view: they are derived from path prefixes.
type Tree struct {
	paths []string
	files map[string]chatModels.SandboxFile
}

// BuildTree snapshots files into a tree view; later changes to files do
// not affect it
func BuildTree(files map[string]chatModels.SandboxFile) *Tree {
	t := &Tree{
		paths: make([]string, 0, len(files)),
		files: make(map[string]chatModels.SandboxFile, len(files)),
	}
	for p, f := range files {
		t.paths = append(t.paths, p)
		t.files[p] = f
	}
	slices.SortFunc(t.paths, comparePaths)
	return t
}

// comparePaths orders siblings directories first, then by name. Paths under
// the same directory stay contiguous, which the walk relies on.
func comparePaths(a, b string) int {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		aDir, bDir := i < len(as)-1, i < len(bs)-1
		if aDir != bDir {
			if aDir {
				return -1
			}
			return 1
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// All walks the tree depth-first, yielding each derived directory before
// its contents. Each call starts a fresh walk.
func (t *Tree) All() iter.Seq[TreeEntry] {
	return func(yield func(TreeEntry) bool) {
		var prevDirs []string
		for _, p := range t.paths {
			segs := strings.Split(p, "/")
			dirs := segs[:len(segs)-1]

			shared := 0
			for shared < len(dirs) && shared < len(prevDirs) && dirs[shared] == prevDirs[shared] {
				shared++
			}
			for d := shared; d < len(dirs); d++ {
				entry := TreeEntry{
					Path:  strings.Join(dirs[:d+1], "/"),
					Name:  dirs[d],
					Depth: d,
					IsDir: true,
				}
				if !yield(entry) {
					return
				}
			}
			prevDirs = dirs

			entry := TreeEntry{
				Path:     p,
				Name:     segs[len(segs)-1],
				Depth:    len(dirs),
				Language: t.files[p].Language,
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// Nodes builds the nested view from the walk
func (t *Tree) Nodes() []*TreeNode {
	var roots []*TreeNode
	var stack []*TreeNode // stack[d] is the open directory at depth d

	for e := range t.All() {
		node := &TreeNode{Name: e.Name, Path: e.Path, IsDir: e.IsDir, Language: e.Language}
		stack = stack[:e.Depth]
		if e.Depth == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[e.Depth-1]
			parent.Children = append(parent.Children, node)
		}
		if e.IsDir {
			stack = append(stack, node)
		}
	}
	return roots
}

// MarshalJSON renders the nested view
func (t *Tree) MarshalJSON() ([]byte, error) {
	nodes := t.Nodes()
	if nodes == nil {
		nodes = []*TreeNode{}
	}
	return json.Marshal(nodes)
}
