package checksum

import "testing"

func TestSum(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("block")) != String("block") {
		t.Error("String and Sum disagree")
	}
	if String("a") == String("b") {
		t.Error("distinct inputs share a digest")
	}
}
