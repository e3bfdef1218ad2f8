package taxonomy

import "sync"

// DefaultVersion is the version string of the built-in taxonomy.
const DefaultVersion = "fintech-2023.1"

var (
	defaultOnce  sync.Once
	defaultModel *Model
)

// Default returns the built-in multi-dimensional FinTech threat taxonomy and
// the financial-services ATT&CK technique catalog. The model is built once and
// shared.
func Default() *Model {
	defaultOnce.Do(func() {
		defaultModel = MustNew(DefaultDefinition())
	})
	return defaultModel
}

// DefaultDefinition returns a fresh copy of the built-in definition, suitable
// as a starting point for a customized taxonomy.
func DefaultDefinition() Definition {
	return Definition{
		Version: DefaultVersion,
		Dimensions: []Dimension{
			{Name: DimensionTechnology, Categories: technologyCategories()},
			{Name: DimensionHuman, Categories: humanCategories()},
			{Name: DimensionProcedural, Categories: proceduralCategories()},
		},
		Tactics:       defaultTactics(),
		Techniques:    defaultTechniques(),
		SeverityRules: defaultSeverityRules(),
		Subsectors:    defaultSubsectors(),
	}
}

func technologyCategories() []Category {
	return []Category{
		{
			Name: "malware",
			Keywords: []string{"ransomware", "trojan", "malware", "virus", "worm", "spyware",
				"backdoor", "rootkit", "lockbit", "blackcat", "emotet", "trickbot"},
			Subcategories: []Subcategory{
				{Name: "ransomware", Keywords: []string{"ransomware", "lockbit", "blackcat", "cl0p", "encrypt", "ransom"}},
				{Name: "banking_trojan", Keywords: []string{"emotet", "trickbot", "qakbot", "banking trojan", "zeus"}},
				{Name: "info_stealer", Keywords: []string{"redline", "raccoon", "stealer", "credential theft"}},
				{Name: "mobile_malware", Keywords: []string{"ngate", "flubot", "android malware", "mobile trojan"}},
			},
		},
		{
			Name: "network",
			Keywords: []string{"ddos", "dns", "mitm", "man-in-the-middle", "network attack",
				"botnet", "amplification", "flood"},
			Subcategories: []Subcategory{
				{Name: "ddos", Keywords: []string{"ddos", "denial of service", "dos attack", "flood"}},
				{Name: "mitm", Keywords: []string{"man-in-the-middle", "mitm", "intercept"}},
				{Name: "dns_attack", Keywords: []string{"dns hijack", "dns poison", "dns spoof"}},
			},
		},
		{
			Name: "application",
			Keywords: []string{"sql injection", "xss", "cross-site", "vulnerability", "exploit",
				"zero-day", "cve", "rce", "remote code execution", "api"},
			Subcategories: []Subcategory{
				{Name: "api_vulnerability", Keywords: []string{"api", "rest", "endpoint", "authentication bypass"}},
				{Name: "sql_injection", Keywords: []string{"sql injection", "sqli", "database injection"}},
				{Name: "xss", Keywords: []string{"cross-site scripting", "xss", "javascript injection"}},
				{Name: "zero_day", Keywords: []string{"zero-day", "zero day", "0-day", "unpatched"}},
			},
		},
		{
			Name: "cloud",
			Keywords: []string{"cloud", "s3", "azure", "aws", "misconfiguration", "container",
				"kubernetes", "docker", "saas", "supply chain"},
			Subcategories: []Subcategory{
				{Name: "cloud_misconfig", Keywords: []string{"misconfiguration", "s3 bucket", "exposed", "public bucket"}},
				{Name: "supply_chain", Keywords: []string{"supply chain", "third-party", "vendor", "dependency"}},
				{Name: "saas_vulnerability", Keywords: []string{"saas", "cloud service", "microsoft 365", "salesforce"}},
			},
		},
		{
			Name:     "emerging",
			Keywords: []string{"ai", "machine learning", "ml", "deepfake", "quantum", "iot"},
			Subcategories: []Subcategory{
				{Name: "ai_ml", Keywords: []string{"ai poisoning", "adversarial", "machine learning", "model"}},
				{Name: "deepfake", Keywords: []string{"deepfake", "synthetic media", "voice clone"}},
				{Name: "iot", Keywords: []string{"iot", "smart device", "connected device", "atm camera"}},
			},
		},
	}
}

func humanCategories() []Category {
	return []Category{
		{
			Name: "social_engineering",
			Keywords: []string{"phishing", "spear phishing", "vishing", "smishing", "bec",
				"business email compromise", "social engineering", "pretexting"},
			Subcategories: []Subcategory{
				{Name: "phishing", Keywords: []string{"phishing", "phish", "email attack", "fake email"}},
				{Name: "spear_phishing", Keywords: []string{"spear phishing", "targeted phishing", "whaling"}},
				{Name: "bec", Keywords: []string{"business email compromise", "bec", "ceo fraud"}},
				{Name: "deepfake_fraud", Keywords: []string{"deepfake", "voice clone", "video manipulation"}},
			},
		},
		{
			Name: "insider",
			Keywords: []string{"insider", "employee", "contractor", "privileged access",
				"rogue employee", "malicious insider", "negligent"},
			Subcategories: []Subcategory{
				{Name: "malicious_insider", Keywords: []string{"malicious insider", "rogue employee", "sabotage"}},
				{Name: "negligent", Keywords: []string{"negligent", "accidental", "mistake", "misconfiguration"}},
				{Name: "compromised_account", Keywords: []string{"compromised account", "stolen credentials", "account takeover"}},
			},
		},
		{
			Name: "credential_based",
			Keywords: []string{"credential", "password", "brute force", "stuffing", "spray",
				"stolen password", "leaked credentials", "breach dump"},
			Subcategories: []Subcategory{
				{Name: "credential_stuffing", Keywords: []string{"credential stuffing", "stuffing attack", "breach replay"}},
				{Name: "password_spray", Keywords: []string{"password spray", "spray attack"}},
				{Name: "brute_force", Keywords: []string{"brute force", "dictionary attack", "password crack"}},
			},
		},
		{
			Name:     "executive_targeting",
			Keywords: []string{"ceo", "executive", "c-suite", "whaling", "vip"},
			Subcategories: []Subcategory{
				{Name: "ceo_fraud", Keywords: []string{"ceo fraud", "executive impersonation"}},
				{Name: "whaling", Keywords: []string{"whaling", "executive phishing"}},
				{Name: "doxxing", Keywords: []string{"doxxing", "personal information", "executive data"}},
			},
		},
	}
}

func proceduralCategories() []Category {
	return []Category{
		{
			Name: "compliance",
			Keywords: []string{"gdpr", "compliance", "regulation", "pci", "dora", "psd2",
				"sox", "glba", "violation", "regulatory"},
			Subcategories: []Subcategory{
				{Name: "gdpr", Keywords: []string{"gdpr", "data protection", "privacy violation"}},
				{Name: "psd2", Keywords: []string{"psd2", "strong customer authentication", "sca"}},
				{Name: "dora", Keywords: []string{"dora", "digital operational resilience"}},
				{Name: "pci_dss", Keywords: []string{"pci", "payment card", "card data"}},
			},
		},
		{
			Name: "access_control",
			Keywords: []string{"access control", "authentication", "mfa", "multi-factor",
				"authorization", "privilege", "rbac", "least privilege"},
			Subcategories: []Subcategory{
				{Name: "weak_auth", Keywords: []string{"weak authentication", "no mfa", "single factor"}},
				{Name: "excessive_permissions", Keywords: []string{"excessive permissions", "over-privileged", "admin access"}},
				{Name: "stale_access", Keywords: []string{"stale access", "orphaned account", "dormant account"}},
			},
		},
		{
			Name: "incident_response",
			Keywords: []string{"incident response", "detection", "monitoring", "alert",
				"delay", "breach notification", "response time"},
			Subcategories: []Subcategory{
				{Name: "no_ir_plan", Keywords: []string{"no incident response", "no ir plan", "unprepared"}},
				{Name: "delayed_detection", Keywords: []string{"delayed detection", "late discovery", "undetected"}},
				{Name: "poor_communication", Keywords: []string{"poor communication", "notification delay"}},
			},
		},
		{
			Name: "third_party",
			Keywords: []string{"third-party", "vendor", "supplier", "contractor", "outsource",
				"third party risk", "supply chain"},
			Subcategories: []Subcategory{
				{Name: "vendor_risk", Keywords: []string{"vendor risk", "third-party risk", "supplier"}},
				{Name: "no_vetting", Keywords: []string{"inadequate vetting", "no due diligence"}},
				{Name: "no_monitoring", Keywords: []string{"no monitoring", "lack of oversight"}},
			},
		},
	}
}

func defaultTactics() []Tactic {
	return []Tactic{
		{ID: "TA0001", Name: "Initial Access"},
		{ID: "TA0002", Name: "Execution"},
		{ID: "TA0003", Name: "Persistence"},
		{ID: "TA0004", Name: "Privilege Escalation"},
		{ID: "TA0005", Name: "Defense Evasion"},
		{ID: "TA0006", Name: "Credential Access"},
		{ID: "TA0007", Name: "Discovery"},
		{ID: "TA0008", Name: "Lateral Movement"},
		{ID: "TA0009", Name: "Collection"},
		{ID: "TA0010", Name: "Exfiltration"},
		{ID: "TA0011", Name: "Command and Control"},
		{ID: "TA0040", Name: "Impact"},
	}
}

// defaultTechniques are the ten techniques most reported against financial
// services.
func defaultTechniques() []Technique {
	return []Technique{
		{ID: "T1078", Name: "Valid Accounts", TacticID: "TA0001", BaseConfidence: 0.8,
			Keywords: []string{"valid account", "credential", "stolen password", "compromised account"}},
		{ID: "T1566", Name: "Phishing", TacticID: "TA0001", BaseConfidence: 0.9,
			Keywords: []string{"phishing", "phish", "spear phishing", "email attack"}},
		{ID: "T1190", Name: "Exploit Public-Facing Application", TacticID: "TA0001", BaseConfidence: 0.85,
			Keywords: []string{"exploit", "vulnerability", "cve", "zero-day", "public-facing"}},
		{ID: "T1486", Name: "Data Encrypted for Impact", TacticID: "TA0040", BaseConfidence: 0.95,
			Keywords: []string{"ransomware", "encrypt", "lockbit", "blackcat", "ransom"}},
		{ID: "T1657", Name: "Financial Theft", TacticID: "TA0040", BaseConfidence: 0.9,
			Keywords: []string{"financial theft", "fraud", "unauthorized transaction", "wire transfer"}},
		{ID: "T1003", Name: "Credential Dumping", TacticID: "TA0006", BaseConfidence: 0.85,
			Keywords: []string{"credential dump", "password dump", "mimikatz", "lsass"}},
		{ID: "T1021", Name: "Remote Services", TacticID: "TA0008", BaseConfidence: 0.8,
			Keywords: []string{"rdp", "remote desktop", "ssh", "remote access"}},
		{ID: "T1071", Name: "Command and Control", TacticID: "TA0011", BaseConfidence: 0.75,
			Keywords: []string{"c2", "command and control", "beacon", "callback"}},
		{ID: "T1041", Name: "Exfiltration", TacticID: "TA0010", BaseConfidence: 0.85,
			Keywords: []string{"exfiltration", "data theft", "stolen data", "data breach"}},
		{ID: "T1547", Name: "Boot or Logon Autostart Execution", TacticID: "TA0003", BaseConfidence: 0.7,
			Keywords: []string{"persistence", "autostart", "registry", "startup"}},
	}
}

func defaultSeverityRules() []SeverityRule {
	return []SeverityRule{
		{Level: LevelCritical, Keywords: []string{"ransomware", "zero-day", "rce", "remote code execution",
			"critical vulnerability", "active exploit"}},
		{Level: LevelHigh, Keywords: []string{"data breach", "credential dump", "privilege escalation",
			"unauthorized access", "malware"}},
		{Level: LevelMedium, Keywords: []string{"phishing", "vulnerability", "misconfiguration", "denial of service"}},
		{Level: LevelLow, Keywords: []string{"informational", "advisory", "warning", "best practice"}},
	}
}

func defaultSubsectors() []Subsector {
	return []Subsector{
		{Name: "digital_banking", Keywords: []string{"neobank", "digital bank", "online bank", "revolut", "n26", "chime", "monzo"}},
		{Name: "payment_processor", Keywords: []string{"payment", "processor", "stripe", "square", "paypal", "adyen", "worldpay"}},
		{Name: "crypto_exchange", Keywords: []string{"crypto", "cryptocurrency", "bitcoin", "ethereum", "exchange", "coinbase", "binance"}},
		{Name: "defi", Keywords: []string{"defi", "decentralized finance", "smart contract", "uniswap", "compound"}},
		{Name: "lending", Keywords: []string{"lending", "loan", "credit", "p2p lending", "lendingclub", "kabbage"}},
		{Name: "insurtech", Keywords: []string{"insurance", "insurtech", "lemonade", "root insurance"}},
		{Name: "wealthtech", Keywords: []string{"wealth", "investment", "robo-advisor", "betterment", "wealthfront"}},
		{Name: "regtech", Keywords: []string{"regtech", "compliance tech", "kyc", "aml", "onfido"}},
		{Name: "infrastructure", Keywords: []string{"plaid", "truelayer", "fintech infrastructure", "banking api"}},
	}
}
