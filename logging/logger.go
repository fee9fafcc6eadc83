package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// New returns a production JSON logger, or a development console logger
// when env is not "production".
func New(service, env string) (*zap.Logger, error) {
	if env == "production" {
		return NewProduction(service)
	}
	return NewDevelopment(service)
}

// NewProduction creates a new structured logger
func NewProduction(service string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{
		"service": service,
	}
	return config.Build()
}

// NewDevelopment creates a logger for development
func NewDevelopment(service string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.InitialFields = map[string]interface{}{
		"service": service,
	}
	return config.Build()
}

// ClassificationObserver logs legacy payment classifications at Debug.
type ClassificationObserver struct {
	log *zap.Logger
}

var _ fiscal.Observer = (*ClassificationObserver)(nil)

func NewClassificationObserver(log *zap.Logger) *ClassificationObserver {
	return &ClassificationObserver{log: log.Named("legacy")}
}

func (o *ClassificationObserver) OnLegacyClassification(saleID fiscal.SaleID, label string, q fiscal.Quadrant) {
	o.log.Debug("payment classified by label",
		zap.String("sale_id", string(saleID)),
		zap.String("label", label),
		zap.String("quadrant", string(q)))
}
