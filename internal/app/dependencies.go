package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/custody"
	"github.com/vladislavdragonenkov/farmline/internal/metrics"
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
	"github.com/vladislavdragonenkov/farmline/internal/service/certs"
	"github.com/vladislavdragonenkov/farmline/internal/service/ledger"
)

// Services связывает доменные сервисы: каталог, escrow-журнал и арбитра.
// Все три разделяют один guard и один vault.
type Services struct {
	Guard   *access.Guard
	Vault   *custody.Vault
	Catalog *catalog.Service
	Engine  *ledger.Engine
	Arbiter *ledger.Arbiter
}

// buildServices собирает доменные сервисы поверх выбранных репозиториев.
// NOTE: эмитент сертификатов пока мок; реальный клиент подключается здесь.
func buildServices(deps *runtimeDependencies, cfg Config, logger *log.Entry, ledgerMetrics *metrics.LedgerMetrics) (*Services, error) {
	guard := access.NewGuard()
	vault := custody.NewVault()

	catalogSvc := catalog.NewService(
		deps.productRepo,
		deps.outboxRepo,
		guard,
		logger.WithField("component", "catalog"),
		catalog.WithMetrics(ledgerMetrics),
	)

	engine := ledger.NewEngine(
		deps.repo,
		catalogSvc,
		vault,
		deps.timelineRepo,
		deps.outboxRepo,
		guard,
		logger.WithField("component", "ledger"),
		ledger.WithMetrics(ledgerMetrics),
	)

	if err := engine.Init(certs.NewMockService(), cfg.FeeRecipient, cfg.FeeRateBps); err != nil {
		return nil, err
	}

	operator := cfg.OperatorID
	if operator == "" {
		operator = cfg.FeeRecipient
	}
	arbiter := ledger.NewArbiter(engine, operator)

	return &Services{
		Guard:   guard,
		Vault:   vault,
		Catalog: catalogSvc,
		Engine:  engine,
		Arbiter: arbiter,
	}, nil
}
