package response

import (
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
)

// ============================================================
// Reply shapes
// ============================================================

// DescriptionUnavailable подставляется, когда форма ответа не распознана.
const DescriptionUnavailable = "Description unavailable"

// Reply: одна из форм ответа сервиса генерации (Legacy, Structured или Unrecognized).
type Reply interface {
	reply()
}

// Legacy: ответ только со ссылкой на изображение.
type Legacy struct {
	ImageURL string
}

// Structured: ответ с флагом успеха и описанием.
type Structured struct {
	Success     bool
	Description string
	Prompt      string
	GeneratedAt *time.Time
	ImageURL    string
}

type Unrecognized struct {
	Raw string
}

func (Legacy) reply()       {}
func (Structured) reply()   {}
func (Unrecognized) reply() {}

// Result: каноническая модель для отображения.
type Result struct {
	Description *string    `json:"description"`
	ImageURL    string     `json:"imageUrl"`
	GeneratedAt *time.Time `json:"generatedAt"`
}

var (
	imagePaths = []string{"imageUrl", "image_url", "imageReference", "url"}
	timePaths  = []string{"timestamp", "generatedAt", "generated_at"}
	promptPath = []string{"prompt", "promptEcho"}
)

// ============================================================
// Parse
// ============================================================

// Parse классифицирует сырой ответ. Никогда не возвращает ошибку:
// всё, что не подходит под известные формы, становится Unrecognized.
func Parse(raw []byte) Reply {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Unrecognized{}
	}
	if !gjson.Valid(text) {
		if bareReference(text) {
			return Legacy{ImageURL: text}
		}
		return Unrecognized{Raw: text}
	}

	doc := gjson.Parse(text)
	switch {
	case doc.Type == gjson.String:
		if url := strings.TrimSpace(doc.String()); url != "" {
			return Legacy{ImageURL: url}
		}
		return Unrecognized{Raw: text}
	case !doc.IsObject():
		return Unrecognized{Raw: text}
	}

	success := doc.Get("success")
	description := doc.Get("description")
	if success.Exists() && description.Exists() {
		return Structured{
			Success:     success.Bool(),
			Description: description.String(),
			Prompt:      first(doc, promptPath).String(),
			GeneratedAt: parseTime(first(doc, timePaths)),
			ImageURL:    first(doc, imagePaths).String(),
		}
	}
	if url := first(doc, imagePaths); url.Type == gjson.String && url.String() != "" {
		return Legacy{ImageURL: url.String()}
	}
	return Unrecognized{Raw: text}
}

// ============================================================
// Normalize
// ============================================================

func Normalize(r Reply) Result {
	switch v := r.(type) {
	case Structured:
		desc := v.Description
		return Result{Description: &desc, ImageURL: v.ImageURL, GeneratedAt: v.GeneratedAt}
	case Legacy:
		return Result{ImageURL: v.ImageURL}
	default:
		desc := DescriptionUnavailable
		return Result{Description: &desc}
	}
}

// Interpret: Parse и Normalize за один вызов.
func Interpret(raw []byte) Result {
	return Normalize(Parse(raw))
}

// ============================================================
// Helpers
// ============================================================

func first(doc gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// parseTime понимает RFC 3339 и unix-время в миллисекундах.
func parseTime(r gjson.Result) *time.Time {
	switch r.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, r.String())
		if err != nil {
			return nil
		}
		return &t
	case gjson.Number:
		t := time.UnixMilli(r.Int()).UTC()
		return &t
	}
	return nil
}

// bareReference: однострочный текст без пробелов считается ссылкой на изображение
// (URL, blob:, data: или относительный путь). Разметка и обрывки JSON сюда не попадают.
func bareReference(s string) bool {
	if strings.ContainsFunc(s, unicode.IsSpace) {
		return false
	}
	return !strings.ContainsAny(s[:1], "<{[")
}
