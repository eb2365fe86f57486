package partition

import "github.com/cloudposture/checks-export/pkg/posture"

// Region seed lists per provider, used as the last refinement dimension.
// "global" is included because some services report no regional placement.
var (
	awsRegions = []string{
		"us-east-1", "us-east-2", "us-west-1", "us-west-2",
		"eu-west-1", "eu-west-2", "eu-central-1", "eu-north-1",
		"ap-southeast-1", "ap-southeast-2", "ap-northeast-1", "ap-northeast-2",
		"sa-east-1", "ca-central-1", "af-south-1", "me-south-1",
		"global",
	}

	azureRegions = []string{
		"eastus", "eastus2", "westus", "westus2", "westus3",
		"westeurope", "northeurope", "southeastasia", "eastasia",
		"centralus", "southcentralus", "northcentralus",
		"canadacentral", "canadaeast", "brazilsouth", "australiaeast",
		"australiasoutheast", "japaneast", "japanwest", "koreacentral",
		"global",
	}

	gcpRegions = []string{
		"us-central1", "us-east1", "us-east4", "us-west1", "us-west2", "us-west3", "us-west4",
		"europe-west1", "europe-west2", "europe-west3", "europe-west4", "europe-west6",
		"asia-southeast1", "asia-southeast2", "asia-northeast1", "asia-northeast2",
		"australia-southeast1", "southamerica-east1", "northamerica-northeast1",
		"global",
	}

	// fallbackRegions covers accounts with an unknown provider tag.
	fallbackRegions = []string{"us-east-1", "us-west-2", "eu-west-1", "global"}
)

// RegionsFor returns the region seed list for a provider.
func RegionsFor(p posture.Provider) []string {
	switch p {
	case posture.ProviderAWS:
		return awsRegions
	case posture.ProviderAzure:
		return azureRegions
	case posture.ProviderGCP:
		return gcpRegions
	default:
		return fallbackRegions
	}
}
