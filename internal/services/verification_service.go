package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/platform/idempotency"
)

var (
	errVerifyGatewayRequired = errors.New("verification service: gateway is required")
	errVerifyLatchRequired   = errors.New("verification service: latch is required")
)

const ambiguousFailureNote = "If you were charged, the purchase may already be reflected in your account."

// VerificationServiceDeps wires the post-payment verification gate.
type VerificationServiceDeps struct {
	Gateway gateway.StoreGateway
	Latch   *idempotency.Latch
	Logger  func(context.Context, string, map[string]any)
	// Navigate performs a full-page navigation to the given path.
	Navigate navigateFunc
	// Celebrate fires the success moment (confetti, sound) exactly once.
	Celebrate func(context.Context)
	// AutoContinueDelay is how long a successful verification waits before
	// continuing to the dashboard on its own. Zero disables auto-continue.
	AutoContinueDelay time.Duration
	// DashboardPath is the post-success destination.
	DashboardPath string
	// StorePath is where a missing session id, or the second failure exit,
	// leads back to.
	StorePath string
}

type verificationService struct {
	gw        gateway.StoreGateway
	latch     *idempotency.Latch
	logger    func(context.Context, string, map[string]any)
	navigate  navigateFunc
	celebrate func(context.Context)
	delay     time.Duration
	dashboard string
	store     string

	mu    sync.Mutex
	timer *time.Timer
}

// NewVerificationService constructs a VerificationService enforcing dependency validation.
func NewVerificationService(deps VerificationServiceDeps) (VerificationService, error) {
	if deps.Gateway == nil {
		return nil, errVerifyGatewayRequired
	}
	if deps.Latch == nil {
		return nil, errVerifyLatchRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	navigate := deps.Navigate
	if navigate == nil {
		navigate = func(context.Context, string) {}
	}
	celebrate := deps.Celebrate
	if celebrate == nil {
		celebrate = func(context.Context) {}
	}
	dashboard := strings.TrimSpace(deps.DashboardPath)
	if dashboard == "" {
		dashboard = "/account"
	}
	store := strings.TrimSpace(deps.StorePath)
	if store == "" {
		store = "/store"
	}

	return &verificationService{
		gw:        deps.Gateway,
		latch:     deps.Latch,
		logger:    logger,
		navigate:  navigate,
		celebrate: celebrate,
		delay:     deps.AutoContinueDelay,
		dashboard: dashboard,
		store:     store,
	}, nil
}

// Verify settles the landing for one payment session. The latch is reserved
// before the remote call leaves, so a second caller with the same session id
// can never trigger a second verification, no matter how the calls interleave.
func (s *verificationService) Verify(ctx context.Context, sessionID string) (domain.PaymentVerificationRecord, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		s.logger(ctx, "verify.missing_session", nil)
		s.navigate(ctx, s.store)
		return domain.PaymentVerificationRecord{Attempted: false, Status: domain.VerificationFailed,
			Message: "No payment session to verify."}, nil
	}

	reservation, err := s.latch.Reserve(id)
	if err != nil {
		return domain.PaymentVerificationRecord{}, fmt.Errorf("verification service: %w", err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		// Replay the settled outcome; a remount sees the same screen.
		if record, ok := reservation.Record.Outcome.(domain.PaymentVerificationRecord); ok {
			return record, nil
		}
		return domain.PaymentVerificationRecord{SessionID: id, Attempted: true, Status: domain.VerificationFailed}, nil
	case idempotency.ReservationStatePending:
		return domain.PaymentVerificationRecord{SessionID: id, Attempted: true, Status: domain.VerificationPending}, nil
	}

	result, err := s.gw.VerifyPaymentSession(ctx, id)
	if gateway.IsUnauthenticated(err) {
		// The check never reached the provider; release the latch so the
		// landing can retry once the session is restored.
		s.latch.Release(id)
		s.logger(ctx, "verify.unauthenticated", map[string]any{"sessionId": id})
		return domain.PaymentVerificationRecord{SessionID: id, Status: domain.VerificationPending},
			fmt.Errorf("verification service: sign-in required: %w", err)
	}

	record := domain.PaymentVerificationRecord{SessionID: id, Attempted: true}
	switch {
	case err != nil:
		// The outcome is unknown; the charge may or may not have settled.
		// The latch still closes so a reload cannot re-verify.
		record.Status = domain.VerificationFailed
		record.Message = "We couldn't confirm your payment. " + ambiguousFailureNote
		s.logger(ctx, "verify.transport_failed", map[string]any{"sessionId": id, "error": err.Error()})
	case result.Success:
		record.Status = domain.VerificationSuccess
		s.logger(ctx, "verify.confirmed", map[string]any{"sessionId": id})
	default:
		record.Status = domain.VerificationFailed
		message := strings.TrimSpace(result.Message)
		if message == "" {
			message = "The payment could not be confirmed."
		}
		record.Message = message + " " + ambiguousFailureNote
		s.logger(ctx, "verify.rejected", map[string]any{"sessionId": id, "message": result.Message})
	}

	if latchErr := s.latch.Complete(id, record); latchErr != nil {
		s.logger(ctx, "verify.latch_complete_failed", map[string]any{"sessionId": id, "error": latchErr.Error()})
	}

	if record.Status == domain.VerificationSuccess {
		s.celebrate(ctx)
		s.scheduleAutoContinue(ctx)
	}
	if err != nil {
		return record, fmt.Errorf("verification service: unavailable: %w", err)
	}
	return record, nil
}

// Continue is the manual success exit; it also serves as the first failure exit.
func (s *verificationService) Continue(ctx context.Context) {
	s.cancelAutoContinue()
	s.navigate(ctx, s.dashboard)
}

// ReturnToStore is the second failure exit.
func (s *verificationService) ReturnToStore(ctx context.Context) {
	s.cancelAutoContinue()
	s.navigate(ctx, s.store)
}

func (s *verificationService) scheduleAutoContinue(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.navigate(context.WithoutCancel(ctx), s.dashboard)
	})
}

func (s *verificationService) cancelAutoContinue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
