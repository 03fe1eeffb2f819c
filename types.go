package main

// Request/response DTOs. Keep them minimal and explicit.

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	Token string `json:"token"`
}

// createProjectReq seeds the project from cloneFrom when set, from the empty
// shape when empty is true, and from the base template otherwise.
type createProjectReq struct {
	Name      string `json:"name"`
	CloneFrom string `json:"cloneFrom,omitempty"`
	Empty     bool   `json:"empty,omitempty"`
}

type addTaskReq struct {
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Label string `json:"label,omitempty"`
}

type databaseResp struct {
	Name string `json:"name"`
}
