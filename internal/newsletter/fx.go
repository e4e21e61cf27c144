package newsletter

import (
	"github.com/smallbiznis/newsletter/internal/newsletter/domain"
	"github.com/smallbiznis/newsletter/internal/newsletter/repository"
	"github.com/smallbiznis/newsletter/internal/newsletter/service"
	subscriptiondomain "github.com/smallbiznis/newsletter/internal/subscription/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("newsletter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(NewRecipientSource),
)

// NewRecipientSource exposes confirmed subscribers as issue recipients.
func NewRecipientSource(repo subscriptiondomain.Repository) domain.RecipientSource {
	return repo
}
