package reconciler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"invoice-reconciliation-engine/internal/events"
	"invoice-reconciliation-engine/internal/locks"
	"invoice-reconciliation-engine/internal/matcher"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/recorder"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

const tracerName = "invoice-reconciliation-engine/internal/reconciler"

// Config holds configuration options for the reconciliation service
type Config struct {
	// BatchConcurrency bounds parallel evaluations in EvaluatePending
	BatchConcurrency int
	// BatchLimit caps how many pending invoices one batch picks up; zero means all
	BatchLimit int

	// ProgressReporting logs batch progress every ProgressInterval
	ProgressReporting bool
	ProgressInterval  time.Duration

	// AutoRuleNameFormat names rules created by training; %s is the vendor
	AutoRuleNameFormat string
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		BatchConcurrency:   4,
		ProgressReporting:  true,
		ProgressInterval:   5 * time.Second,
		AutoRuleNameFormat: "Auto-approve %s",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BatchConcurrency <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "batch.concurrency", c.BatchConcurrency,
			fmt.Errorf("batch concurrency must be positive, got %d", c.BatchConcurrency))
	}
	if c.BatchLimit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "batch.limit", c.BatchLimit,
			fmt.Errorf("batch limit cannot be negative, got %d", c.BatchLimit))
	}
	if c.ProgressInterval < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "batch.progress_interval", c.ProgressInterval, nil)
	}
	return nil
}

// Dependencies are the collaborators of a Service. Only Store is required.
type Dependencies struct {
	Store         store.Store
	MatchConfig   *matcher.MatchConfig
	Preprocessing *PreprocessingConfig
	Publisher     events.Publisher
	Locker        locks.Locker
	Logger        logger.Logger
	Tracer        trace.Tracer

	// Clock and NewID are replaced in tests
	Clock func() time.Time
	NewID func() string
}

// Service evaluates invoices against purchase order data and applies the
// human lifecycle actions. Every operation reads what it needs from the
// store, decides, and writes the invoice back in one update.
type Service struct {
	store        store.Store
	engine       *matcher.Engine
	preprocessor *DataPreprocessor
	publisher    events.Publisher
	locker       locks.Locker
	logger       logger.Logger
	tracer       trace.Tracer
	config       *Config
	clock        func() time.Time
	newID        func() string
}

// NewService creates a reconciliation service. Missing optional
// dependencies fall back to a log publisher, an in-process locker and the
// global tracer provider.
func NewService(deps Dependencies, config *Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("provide a store implementation")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	matchConfig := deps.MatchConfig
	if matchConfig == nil {
		matchConfig = matcher.DefaultMatchConfig()
	}
	if err := matchConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matchConfig.String(), err)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("reconciler")

	s := &Service{
		store:        deps.Store,
		engine:       matcher.NewEngine(matchConfig),
		preprocessor: NewDataPreprocessor(deps.Preprocessing),
		publisher:    deps.Publisher,
		locker:       deps.Locker,
		logger:       log,
		tracer:       deps.Tracer,
		config:       config,
		clock:        deps.Clock,
		newID:        deps.NewID,
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(log)
	}
	if s.locker == nil {
		s.locker = locks.NewLocalLocker()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	log.WithFields(logger.Fields{
		"price_tolerance":    matchConfig.PriceTolerance.String(),
		"quantity_tolerance": matchConfig.QuantityTolerance.String(),
		"batch_concurrency":  config.BatchConcurrency,
	}).Debug("Reconciliation service created")

	return s, nil
}

// GetMatchingConfig returns the engine configuration
func (s *Service) GetMatchingConfig() *matcher.MatchConfig {
	return s.engine.Config
}

// GetConfig returns the service configuration
func (s *Service) GetConfig() *Config {
	return s.config
}

// EvaluationResult is the outcome of one evaluation or preview
type EvaluationResult struct {
	InvoiceID      string               `json:"invoice_id"`
	InvoiceNumber  string               `json:"invoice_number"`
	VendorName     string               `json:"vendor_name"`
	PreviousStatus models.InvoiceStatus `json:"previous_status"`
	Status         models.InvoiceStatus `json:"status"`
	Reason         string               `json:"reason,omitempty"`
	AuditTrail     string               `json:"audit_trail"`
	Decision       *recorder.Decision   `json:"decision"`
	Persisted      bool                 `json:"persisted"`

	match *matcher.MatchResult
}

// Match returns the engine findings behind the decision
func (r *EvaluationResult) Match() *matcher.MatchResult {
	return r.match
}

// ActionRequest carries a human lifecycle action
type ActionRequest struct {
	InvoiceID string `json:"-"`
	Actor     string `json:"actor"`
	Note      string `json:"note"`
}

// TrainRequest teaches the exception memory how an invoice should have
// been decided.
type TrainRequest struct {
	InvoiceID      string               `json:"invoice_id"`
	Actor          string               `json:"actor"`
	Scenario       string               `json:"scenario"`
	Rationale      string               `json:"rationale"`
	ExpectedStatus models.InvoiceStatus `json:"expected_status"`
	Field          models.VarianceField `json:"field,omitempty"`
	// Variance overrides the magnitude found by a dry-run evaluation
	Variance decimal.NullDecimal `json:"variance"`
	// CreateRule also adds an auto_approve rule for the vendor
	CreateRule bool   `json:"create_rule"`
	RuleName   string `json:"rule_name,omitempty"`
}

// TrainResult is what training stored
type TrainResult struct {
	Example *models.LearningExample `json:"example"`
	Rule    *models.ValidatorRule   `json:"rule,omitempty"`
}
