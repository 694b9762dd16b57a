package modeluri

import (
	"reflect"
	"testing"
)

func TestResolvedURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		ref      string
		path     string
		want     string
	}{
		{"main", "https://huggingface.co", "main", "model.gguf", "https://huggingface.co/owner/model/resolve/main/model.gguf?download=true"},
		{"empty ref", "https://huggingface.co/", "", "model.gguf", "https://huggingface.co/owner/model/resolve/main/model.gguf?download=true"},
		{"nested", "https://mirror.local/hf", "v2", "q/model.gguf", "https://mirror.local/hf/owner/model/resolve/v2/q/model.gguf?download=true"},
		{"escaped", "https://huggingface.co", "main", "my model.gguf", "https://huggingface.co/owner/model/resolve/main/my%20model.gguf?download=true"},
		{"pull request ref", "https://huggingface.co", "refs/pr/1", "model.gguf", "https://huggingface.co/owner/model/resolve/refs%2Fpr%2F1/model.gguf?download=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvedURL(tt.endpoint, "owner", "model", tt.ref, tt.path); got != tt.want {
				t.Errorf("ResolvedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRegistryPath(t *testing.T) {
	tests := []struct {
		path                        string
		owner, model, ref, filePath string
		ok                          bool
	}{
		{"/owner/model/resolve/main/model.gguf", "owner", "model", "main", "model.gguf", true},
		{"/owner/model/blob/main/dir/model.gguf", "owner", "model", "main", "dir/model.gguf", true},
		{"owner/model/resolve/abc123/model.gguf/", "owner", "model", "abc123", "model.gguf", true},
		{"/owner/model/tree/main/model.gguf", "", "", "", "", false},
		{"/owner/model/resolve/main", "", "", "", "", false},
		{"/owner/model", "", "", "", "", false},
		{"/owner/model/resolve/main/a//b.gguf", "", "", "", "", false},
		{"/owner/model/resolve/refs%2Fpr%2F1/dir/model.gguf", "owner", "model", "refs/pr/1", "dir/model.gguf", true},
		{"/owner/model/resolve/main/my%20model.gguf", "owner", "model", "main", "my model.gguf", true},
		{"/owner/model/resolve/main/bad%zz.gguf", "", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			owner, model, ref, filePath, ok := ParseRegistryPath(tt.path)
			if ok != tt.ok || owner != tt.owner || model != tt.model || ref != tt.ref || filePath != tt.filePath {
				t.Errorf("ParseRegistryPath(%q) = (%q, %q, %q, %q, %v), want (%q, %q, %q, %q, %v)",
					tt.path, owner, model, ref, filePath, ok, tt.owner, tt.model, tt.ref, tt.filePath, tt.ok)
			}
		})
	}
}

func TestCanonicalFilename(t *testing.T) {
	prefix, filename := CanonicalFilename("hf", "bartowski", "Q5_K_M/model-Q5_K_M-00001-of-00002.gguf")
	if prefix != "hf_bartowski_" {
		t.Errorf("prefix = %q, want hf_bartowski_", prefix)
	}
	if filename != "model-Q5_K_M-00001-of-00002.gguf" {
		t.Errorf("filename = %q, want model-Q5_K_M-00001-of-00002.gguf", filename)
	}
}

func TestBaseFilename(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"Meta-Llama-3.1-8B-Instruct-GGUF", "Meta-Llama-3.1-8B-Instruct"},
		{"tiny-gguf", "tiny"},
		{"GGUF-collection", "GGUF-collection"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		if got := BaseFilename(tt.model); got != tt.want {
			t.Errorf("BaseFilename(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestParseSplit(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   SplitInfo
		wantOk bool
	}{
		{"gguf first", "model-00001-of-00003.gguf", SplitInfo{Stem: "model", Index: 1, Count: 3}, true},
		{"gguf last", "model.Q4_K_M-00003-of-00003.gguf", SplitInfo{Stem: "model.Q4_K_M", Index: 3, Count: 3}, true},
		{"binary", "model.Q8_0.gguf.part1of2", SplitInfo{Stem: "model.Q8_0.gguf", Index: 1, Count: 2, Binary: true}, true},
		{"index out of range", "model-00004-of-00003.gguf", SplitInfo{}, false},
		{"zero index", "model.gguf.part0of2", SplitInfo{}, false},
		{"single file", "model.Q4_K_M.gguf", SplitInfo{}, false},
		{"short digits", "model-1-of-3.gguf", SplitInfo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSplit(tt.input)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("ParseSplit(%q) = (%+v, %v), want (%+v, %v)", tt.input, got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestIsSplitFirstPart(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"model-00001-of-00002.gguf", true},
		{"model-00002-of-00002.gguf", false},
		{"model-00001-of-00001.gguf", false},
		{"model.gguf.part1of2", true},
		{"model.gguf", false},
	}

	for _, tt := range tests {
		if got := IsSplitFirstPart(tt.name); got != tt.want {
			t.Errorf("IsSplitFirstPart(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestExpandSplit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "gguf split",
			input: "model.Q5_K_M-00001-of-00003.gguf",
			want: []string{
				"model.Q5_K_M-00001-of-00003.gguf",
				"model.Q5_K_M-00002-of-00003.gguf",
				"model.Q5_K_M-00003-of-00003.gguf",
			},
		},
		{
			name:  "from a later part",
			input: "model-00002-of-00002.gguf",
			want:  []string{"model-00001-of-00002.gguf", "model-00002-of-00002.gguf"},
		},
		{
			name:  "binary split",
			input: "model.Q8_0.gguf.part1of2",
			want:  []string{"model.Q8_0.gguf.part1of2", "model.Q8_0.gguf.part2of2"},
		},
		{
			name:  "single",
			input: "model.gguf",
			want:  []string{"model.gguf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandSplit(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandSplit(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitFilename(t *testing.T) {
	if got := SplitFilename("model", 2, 12); got != "model-00002-of-00012.gguf" {
		t.Errorf("SplitFilename() = %q", got)
	}
}

func TestFillSplitCount(t *testing.T) {
	got := FillSplitCount("hf_o_m.Q5_K_M-00001-of-{count}.gguf", 2)
	if got != "hf_o_m.Q5_K_M-00001-of-00002.gguf" {
		t.Errorf("FillSplitCount() = %q", got)
	}
	if got := FillSplitCount("hf_o_m.gguf", 2); got != "hf_o_m.gguf" {
		t.Errorf("FillSplitCount() changed a single-file name: %q", got)
	}
}

func TestParseCandidate(t *testing.T) {
	u := Parse("hf:mradermacher/Meta-Llama-3.1-8B-Instruct-GGUF", false).(*Unresolved)

	want := []Candidate{
		{Tag: "Q4_K_M"},
		{Tag: "Q4_K_M", Split: true},
		{},
		{Split: true},
	}
	if len(u.PossibleFullFilenames) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(u.PossibleFullFilenames), len(want))
	}
	for i, candidate := range u.PossibleFullFilenames {
		got, ok := ParseCandidate(u, candidate)
		if !ok {
			t.Errorf("ParseCandidate(%q) failed", candidate)
			continue
		}
		if got != want[i] {
			t.Errorf("ParseCandidate(%q) = %+v, want %+v", candidate, got, want[i])
		}
	}

	if _, ok := ParseCandidate(u, "hf_other_model.gguf"); ok {
		t.Error("expected foreign candidate to be rejected")
	}
	if _, ok := ParseCandidate(u, u.FilePrefix+u.BaseFilename+"-extra.gguf"); ok {
		t.Error("expected malformed candidate to be rejected")
	}
}

func TestResolvedParts(t *testing.T) {
	t.Run("gguf split with different local and remote names", func(t *testing.T) {
		r := &Resolved{
			URI:          "hf:bartowski/Meta-Llama-3.1-70B-Instruct-GGUF:Q5_K_M",
			FilePrefix:   "hf_bartowski_",
			Filename:     "Meta-Llama-3.1-70B-Instruct.Q5_K_M-00001-of-00002.gguf",
			FullFilename: "hf_bartowski_Meta-Llama-3.1-70B-Instruct.Q5_K_M-00001-of-00002.gguf",
			ResolvedURL:  "https://huggingface.co/bartowski/Meta-Llama-3.1-70B-Instruct-GGUF/resolve/main/Q5_K_M/Meta-Llama-3.1-70B-Instruct-Q5_K_M-00001-of-00002.gguf?download=true",
			Size:         42,
		}

		parts := r.Parts()
		if len(parts) != 2 {
			t.Fatalf("got %d parts, want 2", len(parts))
		}

		if parts[0].FullFilename != r.FullFilename || parts[0].ResolvedURL != r.ResolvedURL {
			t.Errorf("first part = %+v, want it to match the reference", parts[0])
		}
		if parts[0].Size != 42 {
			t.Errorf("first part Size = %d, want 42", parts[0].Size)
		}

		wantName := "hf_bartowski_Meta-Llama-3.1-70B-Instruct.Q5_K_M-00002-of-00002.gguf"
		wantURL := "https://huggingface.co/bartowski/Meta-Llama-3.1-70B-Instruct-GGUF/resolve/main/Q5_K_M/Meta-Llama-3.1-70B-Instruct-Q5_K_M-00002-of-00002.gguf?download=true"
		if parts[1].FullFilename != wantName {
			t.Errorf("second FullFilename = %q, want %q", parts[1].FullFilename, wantName)
		}
		if parts[1].ResolvedURL != wantURL {
			t.Errorf("second ResolvedURL = %q, want %q", parts[1].ResolvedURL, wantURL)
		}
		if parts[1].Size != 0 {
			t.Errorf("second part Size = %d, want 0", parts[1].Size)
		}
	})

	t.Run("binary split", func(t *testing.T) {
		r := Parse("hf:mradermacher/m-GGUF/m.Q8_0.gguf.part1of2", false).(*Resolved)
		parts := r.Parts()
		if len(parts) != 2 {
			t.Fatalf("got %d parts, want 2", len(parts))
		}
		if parts[1].Filename != "m.Q8_0.gguf.part2of2" {
			t.Errorf("second Filename = %q", parts[1].Filename)
		}
		if parts[1].ResolvedURL != "https://huggingface.co/mradermacher/m-GGUF/resolve/main/m.Q8_0.gguf.part2of2?download=true" {
			t.Errorf("second ResolvedURL = %q", parts[1].ResolvedURL)
		}
	})

	t.Run("single file", func(t *testing.T) {
		r := Parse("hf:owner/model/model.gguf", false).(*Resolved)
		parts := r.Parts()
		if len(parts) != 1 || parts[0] != r {
			t.Errorf("Parts() = %+v, want the reference itself", parts)
		}
		if r.IsSplit() {
			t.Error("IsSplit() = true for a single file")
		}
	})
}
