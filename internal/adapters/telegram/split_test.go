package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString(strings.Repeat("a", 3000))
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("b", 2000))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(b.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > MessageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatal("неожиданное содержимое первой части")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatal("вторая часть должна содержать блоки b и c")
	}
}

func TestSplitTextWithoutNewlines(t *testing.T) {
	parts := SplitText("абвгдеёжз", 4)
	want := []string{"абвг", "деёж", "з"}
	if len(parts) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("часть %d: ожидали %q, получили %q", i, want[i], parts[i])
		}
	}
}

func TestSplitMessageShortAndEmpty(t *testing.T) {
	if parts := SplitMessage("hello world"); len(parts) != 1 || parts[0] != "hello world" {
		t.Fatalf("неожиданный результат: %v", parts)
	}
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("ожидали пустой результат, получили %d частей", len(parts))
	}
}
