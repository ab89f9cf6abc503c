package stage

import "testing"

func TestValid(t *testing.T) {
	for _, s := range All() {
		if !Valid(string(s)) {
			t.Fatalf("Valid(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "submitted", "reviewing", "done", "DISCOVER"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true, want false", s)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		stored string
		want   Stage
	}{
		{stored: "discover", want: Discover},
		{stored: "maintain", want: Maintain},
		{stored: "submitted", want: Discover},
		{stored: "reviewing", want: Define},
		{stored: "in_progress", want: Develop},
		{stored: "completed", want: Deliver},
		{stored: "on_hold", want: Define},
		{stored: "garbage", want: Discover},
		{stored: "", want: Discover},
	}

	for _, tc := range cases {
		t.Run(tc.stored, func(t *testing.T) {
			if got := Normalize(tc.stored); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.stored, got, tc.want)
			}
		})
	}
}

func TestIndexFollowsPipelineOrder(t *testing.T) {
	if Index(Discover) != 0 || Index(Maintain) != 5 {
		t.Fatalf("unexpected pipeline order: discover=%d maintain=%d", Index(Discover), Index(Maintain))
	}
	if Index(Design) >= Index(Develop) {
		t.Fatal("design must come before develop")
	}
	if Index(Stage("submitted")) != -1 {
		t.Fatal("legacy values have no pipeline position")
	}
}
