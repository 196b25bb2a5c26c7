package curriculum

import "testing"

func TestHashManifestBytesKnownVectors(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{input: "", want: "811c9dc5"},
		{input: "a", want: "e40c292c"},
		{input: "foobar", want: "bf9cf968"},
	}
	for _, testCase := range testCases {
		if got := HashManifestBytes([]byte(testCase.input)); got != testCase.want {
			t.Fatalf("hash(%q) = %s, want %s", testCase.input, got, testCase.want)
		}
	}
}

func TestHashManifestIsStableAndSensitive(t *testing.T) {
	manifest := sampleManifest()
	first, err := HashManifest(manifest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := HashManifest(sampleManifest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable hash, got %s and %s", first, second)
	}
	if len(first) != 8 {
		t.Fatalf("expected 8 hex characters, got %q", first)
	}

	manifest.Units[0].Title = "Golden Bead Addition"
	changed, err := HashManifest(manifest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed == first {
		t.Fatalf("expected hash to change with content")
	}
}
