package sandbox

import (
	"encoding/json"
	"strings"
	"testing"

	chatModels "sandchat/internal/domain/models/chat"
)

func TestTree_All(t *testing.T) {
	files := map[string]chatModels.SandboxFile{
		"src/components/Button.jsx": {Language: chatModels.LanguageJSX},
		"src/App.jsx":               {Language: chatModels.LanguageJSX},
		"index.html":                {Language: chatModels.LanguageHTML},
	}
	tree := BuildTree(files)

	var got []string
	for e := range tree.All() {
		kind := "f"
		if e.IsDir {
			kind = "d"
		}
		got = append(got, kind+":"+e.Path)
	}
	want := []string{"d:src", "d:src/components", "f:src/components/Button.jsx", "f:src/App.jsx", "f:index.html"}
	if len(got) != len(want) {
		t.Fatalf("walk = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("walk[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// restartable and detached from later changes
	delete(files, "index.html")
	n := 0
	for range tree.All() {
		n++
	}
	if n != len(want) {
		t.Errorf("second walk yielded %d entries, want %d", n, len(want))
	}
}

func TestTree_DirectoriesFirst(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  []string
	}{
		{
			name:  "dot sorts before slash",
			paths: []string{"a.txt", "a/b.txt"},
			want:  []string{"d:a", "f:a/b.txt", "f:a.txt"},
		},
		{
			name:  "dash sorts before slash",
			paths: []string{"a-b/y.js", "a/x.js", "a/z.js"},
			want:  []string{"d:a", "f:a/x.js", "f:a/z.js", "d:a-b", "f:a-b/y.js"},
		},
		{
			name:  "nested directory before sibling file",
			paths: []string{"src/main.py", "src/lib/util.py", "README.txt"},
			want:  []string{"d:src", "d:src/lib", "f:src/lib/util.py", "f:src/main.py", "f:README.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := make(map[string]chatModels.SandboxFile, len(tt.paths))
			for _, p := range tt.paths {
				files[p] = chatModels.SandboxFile{}
			}
			var got []string
			for e := range BuildTree(files).All() {
				kind := "f"
				if e.IsDir {
					kind = "d"
				}
				got = append(got, kind+":"+e.Path)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("walk = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTree_EarlyStop(t *testing.T) {
	tree := BuildTree(map[string]chatModels.SandboxFile{"a/b.txt": {}, "c.txt": {}})
	n := 0
	for range tree.All() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("n = %d", n)
	}
}

func TestTree_Nodes(t *testing.T) {
	tree := BuildTree(map[string]chatModels.SandboxFile{
		"src/App.jsx": {Language: chatModels.LanguageJSX},
		"src/util.js": {Language: chatModels.LanguageJavaScript},
		"README.txt":  {Language: chatModels.LanguageText},
	})
	nodes := tree.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("roots = %d, want 2", len(nodes))
	}
	src := nodes[0]
	if !src.IsDir || src.Name != "src" || len(src.Children) != 2 {
		t.Errorf("src node = %+v", src)
	}

	raw, err := json.Marshal(BuildTree(nil))
	if err != nil || string(raw) != "[]" {
		t.Errorf("empty tree json = %s, %v", raw, err)
	}
}
