package payment

import (
	"fmt"
	"strings"

	"github.com/pressplane/pressplane/internal/config"
	paymentdomain "github.com/pressplane/pressplane/internal/providers/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.payment",
	fx.Provide(ProvideGateway),
)

func ProvideGateway(cfg config.Config, log *zap.Logger) (paymentdomain.Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.GatewayMode))
	switch mode {
	case "sandbox", "":
		return NewSandboxGateway(log), nil
	default:
		return nil, fmt.Errorf("unsupported payment gateway mode %q", mode)
	}
}
