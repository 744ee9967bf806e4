package data

import (
	"context"

	"CareFlow/internal/conf"
	"CareFlow/pkg/predict"

	"github.com/go-kratos/kratos/v2/log"
)

// Predictor runs prediction models.
type Predictor interface {
	Predict(ctx context.Context, modelName string, payload map[string]any) (*predict.Result, error)
}

// NewPredictor returns the HTTP prediction client, or a static predictor
// when predict.base_url is not configured.
func NewPredictor(c *conf.Predict, logger log.Logger) (Predictor, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/predictor"))
	if c == nil || c.BaseURL == "" {
		helper.Warn("prediction service not configured, using static predictions")
		return NewStaticPredictor(logger), nil
	}
	client, err := predict.NewClient(c.BaseURL, c.APIKey, c.ProxyURL, c.Timeout)
	if err != nil {
		return nil, err
	}
	helper.Infow("msg", "prediction client ready", "base_url", c.BaseURL, "proxy", c.ProxyURL != "")
	return client, nil
}

// StaticPredictor answers every model with a neutral, low-confidence
// prediction so workflows run without the prediction service.
type StaticPredictor struct {
	logger *log.Helper
}

// NewStaticPredictor creates the fallback predictor.
func NewStaticPredictor(logger log.Logger) *StaticPredictor {
	return &StaticPredictor{logger: log.NewHelper(log.With(logger, "module", "data/predictor"))}
}

// Predict returns a neutral result for modelName.
func (p *StaticPredictor) Predict(_ context.Context, modelName string, _ map[string]any) (*predict.Result, error) {
	prediction := map[string]any{"model": modelName, "source": "static"}
	switch modelName {
	case "provider_matching":
		prediction["top_matches"] = []any{}
	case "client_personalization":
		prediction["tone"] = "warm"
		prediction["personality_importance"] = 0.4
		prediction["experience_importance"] = 0.4
		prediction["location_importance"] = 0.2
	}
	p.logger.Debugw("msg", "static prediction", "model", modelName)
	return &predict.Result{Prediction: prediction, Confidence: 0.5, Factors: []string{"static_fallback"}}, nil
}
