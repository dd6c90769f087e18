// Package app wires configuration into a ready-to-run verification pipeline.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"proof-of-life-gate/internal/attempt"
	attemptrepo "proof-of-life-gate/internal/attempt/repository"
	"proof-of-life-gate/internal/biometric"
	"proof-of-life-gate/internal/challenge"
	"proof-of-life-gate/internal/config"
	"proof-of-life-gate/internal/db"
	"proof-of-life-gate/internal/decision/engine"
	"proof-of-life-gate/internal/ledger"
	"proof-of-life-gate/internal/llm"
	"proof-of-life-gate/internal/pipeline"
	"proof-of-life-gate/internal/security"
	"proof-of-life-gate/internal/telemetry"
	telemetryotel "proof-of-life-gate/internal/telemetry/otel"
	"proof-of-life-gate/internal/telemetry/producer"
	"proof-of-life-gate/internal/token"
	"proof-of-life-gate/internal/vision"
	"proof-of-life-gate/internal/vision/opencv"
)

const instrumentationName = "proof-of-life-gate"

// App owns every long-lived collaborator of a gate process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Policy   *engine.OPAEvaluator
	DB       *sql.DB
	Attempts attemptrepo.Repository
	Events   telemetry.EventEmitter
	OTel     *telemetryotel.Providers

	closers []func(context.Context) error
}

// Build constructs the pipeline described by cfg. source labels telemetry events. On error,
// everything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, source string, presenter pipeline.Presenter) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.OTel, err = telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, cfg.ServiceName, cfg.OTelInsecure, logger)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.OTel.SetGlobal()
	a.closers = append(a.closers, a.OTel.Shutdown)

	var broker producer.Producer
	if kafka := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.TelemetryKafkaTopic, logger); kafka != nil {
		broker = kafka
		a.closers = append(a.closers, func(context.Context) error { return kafka.Close() })
	}
	a.Events = NewEmitter(a.OTel, broker)

	var recorder attempt.Recorder
	if cfg.DatabaseURL != "" {
		a.DB, err = db.OpenContext(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.DB.Close() })
		a.Attempts = attemptrepo.NewPostgresRepository(a.DB)
		recorder = attempt.NewRecorder(a.Attempts, logger)
	} else {
		logger.Info("DATABASE_URL not set; attempts are not recorded")
	}

	a.Policy, err = engine.NewOPAEvaluator(cfg.DecisionPolicyFile, engine.Options{RequireRealFace: cfg.RequireRealFace}, logger)
	if err != nil {
		return nil, err
	}

	provider, err := NewChallengeProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	threshold, err := biometric.NewThresholdPolicy(cfg.SecurityThreshold)
	if err != nil {
		return nil, err
	}

	issuer, err := NewIssuer(cfg, logger)
	if err != nil {
		return nil, err
	}

	detector, camera, err := a.vision(cfg, logger)
	if err != nil {
		return nil, err
	}

	authenticity, emotion, err := a.biometrics(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Challenges:   provider,
		Physical:     detector,
		Camera:       camera,
		Authenticity: authenticity,
		Threshold:    &threshold,
		Emotion:      emotion,
		Decider:      a.Policy,
		Issuer:       issuer,
		Recorder:     recorder,
		Events:       a.Events,
		Presenter:    presenter,
		Tracer:       a.OTel.Tracer(instrumentationName),
		Meter:        a.OTel.Meter(instrumentationName),
		Logger:       logger,
	}, pipeline.Options{
		MaxHoldWait:       cfg.MaxHoldWait(),
		ClassifierTimeout: cfg.ClassifierTimeout(),
		Source:            source,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases everything Build opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewEmitter fans events out to the OTel log pipeline and, when configured, Kafka.
func NewEmitter(providers *telemetryotel.Providers, broker producer.Producer) telemetry.EventEmitter {
	emitters := []telemetry.EventEmitter{}
	if providers != nil && providers.LoggerProvider != nil {
		emitters = append(emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	if broker != nil {
		emitters = append(emitters, broker)
	}
	return telemetry.Fanout(emitters...)
}

// NewChallengeProvider returns the Ollama-backed provider with the configured fallback pool.
func NewChallengeProvider(cfg *config.Config, logger *zap.Logger) (*challenge.Provider, error) {
	pool, err := challenge.LoadFallbackPool(cfg.FallbackChallengesFile)
	if err != nil {
		return nil, err
	}
	gen := llm.NewOllamaClient(cfg.OllamaURL, cfg.LLMModel, logger)
	return challenge.NewProvider(gen, pool, cfg.LLMTimeout(), logger)
}

// NewIssuer returns the proof token issuer selected by TOKEN_ISSUER.
func NewIssuer(cfg *config.Config, logger *zap.Logger) (token.Issuer, error) {
	kind, err := token.ParseKind(cfg.TokenIssuer)
	if err != nil {
		return nil, err
	}
	if kind == token.KindLedger {
		return ledger.NewNotary(cfg.LedgerConfirmDelay(), logger), nil
	}
	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("proof token keys: %w", err)
	}
	return security.NewProofTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL()), nil
}

func (a *App) vision(cfg *config.Config, logger *zap.Logger) (*vision.Detector, vision.CameraOpener, error) {
	ranges, err := vision.LoadColorRanges(cfg.ColorRangesFile)
	if err != nil {
		return nil, nil, err
	}
	indices, err := cfg.CameraIndicesList()
	if err != nil {
		return nil, nil, err
	}
	var overlay vision.Overlay
	if cfg.ShowOverlay {
		w := opencv.NewWindow()
		a.closers = append(a.closers, func(context.Context) error { return w.Close() })
		overlay = w
	}
	detector := vision.NewDetector(opencv.NewSegmenter(), vision.Config{
		Ranges:         ranges,
		MinContourArea: cfg.ContourMinArea,
		HoldDuration:   cfg.HoldDuration(),
	}, overlay, logger)
	return detector, opencv.NewOpener(indices, true, logger), nil
}

func (a *App) biometrics(cfg *config.Config, logger *zap.Logger) (biometric.AuthenticityClassifier, biometric.EmotionClassifier, error) {
	var authenticity biometric.AuthenticityClassifier
	if cfg.FaceServiceURL != "" {
		var locator biometric.FaceLocator
		if cfg.FaceCascadePath != "" {
			l, err := opencv.NewCascadeLocator(cfg.FaceCascadePath)
			if err != nil {
				return nil, nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return l.Close() })
			locator = l
		}
		authenticity = biometric.NewRemoteAuthenticity(cfg.FaceServiceURL, cfg.ClassifierTimeout(), locator, logger)
	} else {
		logger.Warn("FACE_SERVICE_URL not set; face authenticity will report ERROR")
	}
	var emotion biometric.EmotionClassifier
	if cfg.EmotionServiceURL != "" {
		emotion = biometric.NewRemoteEmotion(cfg.EmotionServiceURL, cfg.ClassifierTimeout(), logger)
	} else {
		logger.Warn("EMOTION_SERVICE_URL not set; emotion will be undetected")
	}
	return authenticity, emotion, nil
}
