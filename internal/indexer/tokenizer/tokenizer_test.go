package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"hyphen and digits", "High-School 44", []string{"high", "school", "44"}},
		{"empty", "", nil},
		{"whitespace only", "  ", nil},
		{"punctuation only", "--/..,", nil},
		{"duplicates collapse", "Foley foley FOLEY", []string{"foley"}},
		{"underscore separates", "nonexistent_token_xyz", []string{"nonexistent", "token", "xyz"}},
		{"apostrophe separates", "St. Mary's Academy", []string{"st", "mary", "s", "academy"}},
		{"non-ascii letters separate", "Peña Café", []string{"pe", "a", "caf"}},
		{"leading and trailing separators", "  (Jr) ", []string{"jr"}},
		{"mixed case digits", "PS123K", []string{"ps123k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestTokenizeIsDeterministic(t *testing.T) {
	text := "Jefferson Elem School Belleville IL"
	first := Tokenize(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tokenize(text))
	}
}

func TestAppendTerms(t *testing.T) {
	set := make(map[string]struct{})
	AppendTerms(set, "Foley High School")
	AppendTerms(set, "Foley")
	AppendTerms(set, "AL")

	assert.Len(t, set, 4)
	for _, term := range []string{"foley", "high", "school", "al"} {
		assert.Contains(t, set, term)
	}
}

var sampleTexts = map[string]string{
	"short":  "Foley High School",
	"medium": "Highland Park Elementary School Muscle Shoals AL",
	"long":   strings.Repeat("Jefferson Elementary-Middle School (K-8), Belleville IL ", 40),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Tokenize(text)
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	baseWord := "highland park elementary school "
	for _, size := range []int{10, 100, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}
