package mtproto

import (
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-insight-collector/internal/domain"
)

// Config: параметры MTProto-коллекторов.
type Config struct {
	APIID        int
	APIHash      string
	RPS          float64
	Burst        int
	PageSize     int
	CommentLimit int
}

// Factory создаёт коллекторы для аккаунтов пула с общим лимитом запросов процесса.
type Factory struct {
	cfg     Config
	cache   SessionCache
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ domain.CollectorFactory = (*Factory)(nil)

// NewFactory создаёт фабрику коллекторов.
func NewFactory(cfg Config, cache SessionCache, log zerolog.Logger) (*Factory, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, errors.New("mtproto: TG_API_ID и TG_API_HASH обязательны")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.CommentLimit <= 0 {
		cfg.CommentLimit = defaultCommentLimit
	}
	return &Factory{
		cfg:     cfg,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     log,
	}, nil
}

// NewCollector создаёт коллектор, работающий от имени account.
func (f *Factory) NewCollector(account domain.Account) (domain.SourceCollector, error) {
	if account.Name == "" {
		return nil, fmt.Errorf("mtproto: у аккаунта %d нет имени: %w", account.ID, domain.ErrValidation)
	}
	storage := &accountSession{cache: f.cache, name: account.Name, seed: account.Session}
	client := telegram.NewClient(f.cfg.APIID, f.cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		RetryInterval:  2 * time.Second,
		MaxRetries:     3,
	})
	return &Collector{
		client:       client,
		limiter:      f.limiter,
		log:          f.log.With().Str("account", account.Name).Logger(),
		pageSize:     f.cfg.PageSize,
		commentLimit: f.cfg.CommentLimit,
		peers:        make(map[string]*tg.Channel),
	}, nil
}
