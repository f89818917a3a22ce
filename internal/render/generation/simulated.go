package generation

import (
	"context"
	"encoding/json"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/render/prompt"

	"github.com/gofiber/fiber/v3/log"
)

// SimulatedImageURL: изображение, которое возвращает офлайн-провайдер.
const SimulatedImageURL = "https://storage.googleapis.com/gemini-prod-us-west1-assets/images/20240502/gemini_generated_image_1.jpeg"

// Simulated отвечает без внешнего сервиса: ссылка на готовое изображение в legacy-форме.
type Simulated struct {
	Delay time.Duration
}

func (s Simulated) Generate(ctx context.Context, req prompt.Request) ([]byte, error) {
	log.Infow("simulated generation", "images", len(req.Images), "style", req.Style)

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, apperr.Transport("simulated generation", ctx.Err())
		}
	}

	return json.Marshal(map[string]string{"imageUrl": SimulatedImageURL})
}
