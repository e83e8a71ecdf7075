package config

// Settings is the externally visible view of Config. Credentials and the
// database DSN are left out.
type Settings struct {
	APIPort          string         `json:"api_port"`
	MetricsEnabled   bool           `json:"metrics_enabled"`
	AnnotationPrefix string         `json:"annotation_prefix"`
	WatchNamespace   string         `json:"watch_namespace"`
	DBDriver         string         `json:"db_driver"`
	RegistryTimeout  string         `json:"registry_timeout"`
	GitopsTimeout    string         `json:"gitops_timeout"`
	System           System         `json:"system"`
	Notifications    Notifications  `json:"notifications"`
	Gitops           []GitopsConfig `json:"gitops"`
}

func (c *Config) Redacted() Settings {
	gitops := c.Gitops
	if gitops == nil {
		gitops = []GitopsConfig{}
	}
	return Settings{
		APIPort:          c.APIPort,
		MetricsEnabled:   c.MetricsEnabled,
		AnnotationPrefix: c.AnnotationPrefix,
		WatchNamespace:   c.WatchNamespace,
		DBDriver:         c.DBDriver,
		RegistryTimeout:  c.RegistryTimeout.String(),
		GitopsTimeout:    c.GitopsTimeout.String(),
		System:           c.System,
		Notifications:    c.Notifications,
		Gitops:           gitops,
	}
}
