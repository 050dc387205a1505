package semver

import (
	"testing"

	"github.com/Masterminds/semver/v3"
)

func TestTagLocal(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"1.0.0", "1.0.0-local"},
		{"1.0.0-beta.1", "1.0.0-beta.1.local"},
		{"1.0.0-local", "1.0.0-local"},
		{"2.3.4-rc.local", "2.3.4-rc.local"},
		{"0.1.0+build.5", "0.1.0-local+build.5"},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got := TagLocal(semver.MustParse(tt.version))
			if got.String() != tt.want {
				t.Fatalf("TagLocal(%s) = %s, want %s", tt.version, got, tt.want)
			}
			again := TagLocal(got)
			if again.String() != tt.want {
				t.Fatalf("tagging is not idempotent: %s", again)
			}
			if !IsLocal(got) {
				t.Fatalf("IsLocal(%s) should be true", got)
			}
		})
	}
}

func TestIsLocalString(t *testing.T) {
	tests := map[string]bool{
		"1.0.0":            false,
		"1.0.0-local":      true,
		"1.0.0-locale":     false,
		"1.0.0-beta.local": true,
		"local":            false,
		"":                 false,
	}
	for version, want := range tests {
		if got := IsLocalString(version); got != want {
			t.Errorf("IsLocalString(%q) = %v, want %v", version, got, want)
		}
	}
}

func TestTagLocalString(t *testing.T) {
	v, err := TagLocalString("3.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3.1.0-local" {
		t.Fatalf("unexpected version %s", v)
	}
	if _, err := TagLocalString("not-a-version"); err == nil {
		t.Fatal("should fail on invalid version")
	}
}

func TestLocalPrecedence(t *testing.T) {
	release := semver.MustParse("1.0.0")
	local := TagLocal(release)
	if !SameRelease(release, local) {
		t.Fatal("local marker should not change the release triple")
	}
	if Compare(local, release) >= 0 {
		t.Fatalf("%s should sort before %s", local, release)
	}
	if SameRelease(release, semver.MustParse("1.0.1-local")) {
		t.Fatal("different patch versions are not the same release")
	}
}
