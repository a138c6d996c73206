package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

var errScopeClosed = errors.New("область задачи уже закрыта")

// Scope владеет коллектором на время одной задачи.
// Аккаунт выбирается лениво при первом обращении к коллектору.
type Scope struct {
	accounts domain.AccountRepo
	factory  domain.CollectorFactory
	alerter  domain.Alerter
	log      zerolog.Logger

	account   *domain.Account
	collector domain.SourceCollector
	banned    bool
	closed    bool
	errs      error
}

// NewScope создаёт область задачи. alerter может быть nil.
func NewScope(accounts domain.AccountRepo, factory domain.CollectorFactory, alerter domain.Alerter, log zerolog.Logger) *Scope {
	return &Scope{accounts: accounts, factory: factory, alerter: alerter, log: log}
}

// Account возвращает выбранный аккаунт, если коллектор уже создан.
func (s *Scope) Account() (domain.Account, bool) {
	if s.account == nil {
		return domain.Account{}, false
	}
	return *s.account, true
}

// Collector возвращает инициализированный коллектор, при необходимости выбирая аккаунт из пула.
func (s *Scope) Collector(ctx context.Context) (domain.SourceCollector, error) {
	if s.closed {
		return nil, errScopeClosed
	}
	if s.collector != nil {
		return s.collector, nil
	}
	account, err := s.accounts.AcquireAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("выбор аккаунта: %w", err)
	}
	s.account = &account
	s.log.Debug().Int64("account_id", account.ID).Str("account", account.Name).Msg("collection: выбран аккаунт")

	collector, err := s.factory.NewCollector(account)
	if err != nil {
		return nil, fmt.Errorf("создание коллектора: %w", err)
	}
	if err := collector.Initialize(ctx); err != nil {
		if dErr := collector.Disconnect(context.WithoutCancel(ctx)); dErr != nil {
			s.errs = multierr.Append(s.errs, dErr)
		}
		return nil, s.Observe(ctx, fmt.Errorf("инициализация коллектора: %w", err))
	}
	s.collector = collector
	return collector, nil
}

// Observe пропускает через себя ошибку коллектора. Отзыв авторизации помечает
// аккаунт заблокированным не более одного раза за время жизни области.
func (s *Scope) Observe(ctx context.Context, err error) error {
	if err == nil || s.account == nil || s.banned || !errors.Is(err, domain.ErrCredentialRevoked) {
		return err
	}
	s.banned = true
	bgCtx := context.WithoutCancel(ctx)
	account := *s.account
	if markErr := s.accounts.MarkAccountBanned(bgCtx, account.ID); markErr != nil {
		s.errs = multierr.Append(s.errs, fmt.Errorf("пометка аккаунта %d: %w", account.ID, markErr))
	} else {
		metrics.AccountsBanned.Inc()
		s.log.Warn().Int64("account_id", account.ID).Str("account", account.Name).Err(err).Msg("collection: аккаунт помечен заблокированным")
	}
	if s.alerter != nil {
		text := fmt.Sprintf("Аккаунт %s (id=%d) заблокирован: %v", account.Name, account.ID, err)
		if alertErr := s.alerter.Alert(bgCtx, text); alertErr != nil {
			s.errs = multierr.Append(s.errs, fmt.Errorf("оповещение о блокировке: %w", alertErr))
		}
	}
	return err
}

// Close отключает коллектор и возвращает накопленные ошибки побочных действий.
// Повторный вызов ничего не делает.
func (s *Scope) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	errs := s.errs
	s.errs = nil
	if s.collector != nil {
		errs = multierr.Append(errs, s.collector.Disconnect(ctx))
		s.collector = nil
	}
	return errs
}
