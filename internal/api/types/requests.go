package types

type ServiceOptionsRequest struct {
	User       string `json:"user" validate:"required"`
	Repository string `json:"repository" validate:"required"`
}

type ServiceConfigRequest struct {
	Name    string                `json:"name" validate:"required"`
	Options ServiceOptionsRequest `json:"options"`
}

type ProjectCreateRequest struct {
	Service ServiceConfigRequest `json:"service" validate:"required"`
}

type BuildCreateRequest struct {
	Project     string `json:"project" validate:"required"`
	Head        string `json:"head" validate:"required"`
	Base        string `json:"base" validate:"required"`
	NumBrowsers int    `json:"numBrowsers" validate:"required,gte=1"`
}
