package response

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestInterpret(t *testing.T) {
	generated := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want Result
	}{
		{
			name: "structured reply",
			raw:  `{"success":true,"description":"X","prompt":"p","imageUrl":"Y","timestamp":"2024-05-02T10:30:00Z"}`,
			want: Result{Description: strPtr("X"), ImageURL: "Y", GeneratedAt: &generated},
		},
		{
			name: "structured reply with unix millis",
			raw:  `{"success":true,"description":"X","imageUrl":"Y","timestamp":1714645800000}`,
			want: Result{Description: strPtr("X"), ImageURL: "Y", GeneratedAt: &generated},
		},
		{
			name: "structured reply without timestamp",
			raw:  `{"success":true,"description":"X","imageUrl":"Y"}`,
			want: Result{Description: strPtr("X"), ImageURL: "Y"},
		},
		{
			name: "bare JSON string",
			raw:  `"Y"`,
			want: Result{ImageURL: "Y"},
		},
		{
			name: "legacy object",
			raw:  `{"imageUrl":"https://cdn.example/render.jpeg"}`,
			want: Result{ImageURL: "https://cdn.example/render.jpeg"},
		},
		{
			name: "success flag without description is legacy",
			raw:  `{"success":true,"imageUrl":"Y"}`,
			want: Result{ImageURL: "Y"},
		},
		{
			name: "plain text URL",
			raw:  "https://cdn.example/render.jpeg\n",
			want: Result{ImageURL: "https://cdn.example/render.jpeg"},
		},
		{
			name: "bare reference",
			raw:  "Y",
			want: Result{ImageURL: "Y"},
		},
		{
			name: "blob reference",
			raw:  "blob:http://localhost:3000/4f1c",
			want: Result{ImageURL: "blob:http://localhost:3000/4f1c"},
		},
		{
			name: "data URL",
			raw:  "data:image/png;base64,iVBORw0KGgo=",
			want: Result{ImageURL: "data:image/png;base64,iVBORw0KGgo="},
		},
		{
			name: "relative path",
			raw:  "renders/abc.png",
			want: Result{ImageURL: "renders/abc.png"},
		},
		{
			name: "plain text message",
			raw:  "Service Unavailable",
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "multi-line text",
			raw:  "error\nrenders/abc.png",
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "truncated JSON",
			raw:  `{"imageUrl":`,
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "unknown object",
			raw:  `{"foo":"bar"}`,
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "array",
			raw:  `[1,2,3]`,
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "garbage",
			raw:  `<html>oops</html>`,
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
		{
			name: "empty body",
			raw:  ``,
			want: Result{Description: strPtr(DescriptionUnavailable)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret([]byte(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Interpret() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseClassifies(t *testing.T) {
	assert.IsType(t, Legacy{}, Parse([]byte(`"https://x/y.png"`)))
	assert.IsType(t, Unrecognized{}, Parse([]byte(`42`)))

	reply := Parse([]byte(`{"success":false,"description":"quota exceeded","promptEcho":"p"}`))
	structured, ok := reply.(Structured)
	if assert.True(t, ok) {
		assert.False(t, structured.Success)
		assert.Equal(t, "quota exceeded", structured.Description)
		assert.Equal(t, "p", structured.Prompt)
		assert.Nil(t, structured.GeneratedAt)
	}
}

func TestMalformedTimestampIsDropped(t *testing.T) {
	got := Interpret([]byte(`{"success":true,"description":"X","imageUrl":"Y","timestamp":"yesterday"}`))

	assert.Equal(t, "X", *got.Description)
	assert.Nil(t, got.GeneratedAt)
}
