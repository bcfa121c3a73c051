package classify

import (
	"context"

	"github.com/ddsvuln/vuln-dataset/config"
	"github.com/ddsvuln/vuln-dataset/types"
)

// NoneProvider is used when classification is disabled.
type NoneProvider struct{}

func (NoneProvider) Name() string {
	return config.ProviderNone
}

func (NoneProvider) Classify(context.Context, string) types.Verdict {
	return types.Verdict{
		CWECategory: types.UnknownCWE,
		Explanation: "No categorization available",
		Vendor:      types.UnknownVendor,
	}
}
