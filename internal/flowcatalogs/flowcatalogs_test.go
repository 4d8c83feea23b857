package flowcatalogs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/flowengine/catalog"
)

func TestAllCatalogsRegisterCleanly(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(KYCFlowType, KYCSteps()))
	require.NoError(t, cat.Register(SubscriptionFlowType, SubscriptionSteps()))
	require.NoError(t, cat.Register(PaymentRetryFlowType, PaymentRetrySteps()))
	require.NoError(t, cat.Register(WithdrawalFlowType, WithdrawalSteps()))
}

func TestReRegisteringSameCatalogIsIdempotent(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(KYCFlowType, KYCSteps()))
	require.NoError(t, cat.Register(KYCFlowType, KYCSteps()))
}
