package models

import "testing"

func TestValidateSlug(t *testing.T) {
	valid := []string{"a", "my-video", "a1-b2-c3"}
	for _, s := range valid {
		if err := ValidateSlug(s); err != nil {
			t.Errorf("expected %q to be valid, got %v", s, err)
		}
	}

	invalid := []string{"../a", "a/../b", "A-B", "a b", "a--b", "-a", "a-", ""}
	for _, s := range invalid {
		if err := ValidateSlug(s); err == nil {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestSlugFromTitle(t *testing.T) {
	slug, err := SlugFromTitle("My First Upload!!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSlug(slug); err != nil {
		t.Fatalf("derived slug %q failed validation: %v", slug, err)
	}
	if slug != "my-first-upload" {
		t.Fatalf("got %q, want my-first-upload", slug)
	}
}
