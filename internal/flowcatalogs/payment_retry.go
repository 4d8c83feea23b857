package flowcatalogs

import (
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// PaymentRetryFlowType is the catalog key for the sub-flow a failed charge
// triggers (spec §4.3 sub-flow triggering example).
const PaymentRetryFlowType = "PaymentRetry"

// PaymentRetrySteps returns the step catalog for the PaymentRetry flow
// type: attempt an alternate payment method with bounded automatic retries,
// then notify the account holder. The attempt step is non-critical, so if
// every attempt fails it is skipped and the notification still runs.
func PaymentRetrySteps() []flow.StepDefinition {
	return []flow.StepDefinition{
		{
			Name:       "AttemptAlternatePaymentMethod",
			IsCritical: false,
			MaxRetries: 3,
			RetryDelay: 30 * time.Second,
			Timeout:    15 * time.Second,
			Execute:    opaqueSuccess,
		},
		{
			Name:             "NotifyAccountHolder",
			IsCritical:       true,
			StepDependencies: []string{"AttemptAlternatePaymentMethod"},
			CanRunInParallel: true,
			Execute:          opaqueSuccess,
		},
	}
}
