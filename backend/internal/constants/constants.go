package constants

import "time"

// Expansion defaults
const (
	// DefaultFirstHopThreshold gates expansion from degree 1 to degree 2
	DefaultFirstHopThreshold = 0.0
	// DefaultExpansionThreshold gates expansion from degree 2 onwards
	DefaultExpansionThreshold = 0.7
	// DefaultExpansionCap is the maximum number of nodes expanded per degree
	DefaultExpansionCap = 50
	// DefaultMaxDegree is the deepest degree that will be discovered
	DefaultMaxDegree = 3
	// DefaultConcurrency bounds parallel fetches within a round
	DefaultConcurrency = 8
	// DefaultFetchTimeout bounds a single fetch call
	DefaultFetchTimeout = 15 * time.Second
)

// Community algorithms
const (
	CommunityAlgorithmLouvain    = "louvain"
	CommunityAlgorithmComponents = "components"
)

// Identity resolution thresholds (character-level ratio, 0..100)
const (
	NameSimilarityThreshold         = 90.0
	OrganizationSimilarityThreshold = 80.0
)

// Scoring weights and caps
const (
	DegreeOneWeight   = 0.3
	DegreeTwoWeight   = 0.2
	DegreeFarWeight   = 0.1
	OrganizationCap   = 0.3
	SkillWeight       = 0.1
	SkillCap          = 0.3
	MutualWeight      = 0.02
	MutualCap         = 0.2
	CentralityCap     = 0.1
	MaxRelevanceScore = 1.0
)

// Recommendation thresholds and limits
const (
	ImmediateOutreachMaxDegree = 2
	ImmediateOutreachMinScore  = 0.8
	ImmediateOutreachLimit     = 20

	WarmIntroDegree   = 2
	WarmIntroMinScore = 0.6

	CommunityLeaderMinScore = 0.5
	CommunityLeaderLimit    = 10
	KeyConnectionsLimit     = 3

	HiddenGemDegree      = 3
	HiddenGemMinScore    = 0.7
	HiddenGemMinSkills   = 3
	HiddenGemLimit       = 10
	JustificationSkills  = 3
	ManyMutualsThreshold = 10
)

// SeedSource tags the record a run starts from
const SeedSource = "seed"

// DefaultTargetOrganizations is the built-in priority-ordered target list.
// Earlier entries weigh more.
var DefaultTargetOrganizations = []string{
	"Wiz", "Monday.com", "Gong", "Snyk", "Wix", "Fiverr",
	"Taboola", "Outbrain", "SimilarWeb", "IronSource",
	"Payoneer", "Lemonade", "OrCam", "Mobileye",
	"Check Point", "CyberArk", "Imperva", "Aqua Security",
	"Orca Security", "Armis", "Cato Networks", "Tipalti",
	"Guesty", "Bizzabo", "Sisense", "Kaltura", "Playtika",
}

// DefaultSkillCategories maps a required-skill category to its skills
var DefaultSkillCategories = map[string][]string{
	"backend":  {"Python", "Java", "Go", "Node.js", "Kubernetes", "Docker", "Microservices"},
	"frontend": {"React", "Angular", "Vue.js", "TypeScript", "JavaScript", "Next.js"},
	"devops":   {"AWS", "Azure", "GCP", "Terraform", "Jenkins", "CI/CD", "Ansible"},
	"data":     {"Machine Learning", "Data Science", "SQL", "Spark", "Kafka", "Airflow"},
	"security": {"Cybersecurity", "SIEM", "Penetration Testing", "Cloud Security"},
}

// DefaultExcludedOrganizations are never expanded
var DefaultExcludedOrganizations = []string{
	"Bank Hapoalim", "Bank Leumi", "Discount Bank", "Mizrahi Tefahot",
	"Harel Insurance", "Migdal Insurance", "Phoenix Insurance", "Clal Insurance",
	"Israel Electric Corporation", "Bezeq", "Israel Railways",
}
