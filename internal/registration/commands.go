package registration

import (
	id "accounts/pkg/domain"
)

const (
	CmdCreateCredential = "CreateCredential"
	CmdCreateProfile    = "CreateProfile"
	CmdDeleteCredential = "DeleteCredential"
	CmdDeleteProfile    = "DeleteProfile"
)

// ProfileDraft is the profile data carried from registration to CreateProfile.
type ProfileDraft struct {
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Age      int    `json:"age"`
	Role     string `json:"role"`
}

// CreateCredential is the top-level registration command. Ids are minted by the
// caller so the accepted response can return them before the saga settles.
type CreateCredential struct {
	CorrelationID id.CorrelationID
	CredentialID  id.CredentialID
	ProfileID     id.ProfileID
	Email         string
	PasswordHash  string
	ExternalID    string
	Roles         []string
	Profile       ProfileDraft
}

func (CreateCredential) CommandType() string             { return CmdCreateCredential }
func (c CreateCredential) Correlation() id.CorrelationID { return c.CorrelationID }

type CreateProfile struct {
	CorrelationID id.CorrelationID
	CredentialID  id.CredentialID
	ProfileID     id.ProfileID
	Profile       ProfileDraft
}

func (CreateProfile) CommandType() string             { return CmdCreateProfile }
func (c CreateProfile) Correlation() id.CorrelationID { return c.CorrelationID }

// DeleteCredential soft deletes a credential. Reason is echoed on the event so
// sagas can tell compensation from account deletion.
type DeleteCredential struct {
	CorrelationID id.CorrelationID
	CredentialID  id.CredentialID
	ProfileID     id.ProfileID
	Reason        string
}

func (DeleteCredential) CommandType() string             { return CmdDeleteCredential }
func (c DeleteCredential) Correlation() id.CorrelationID { return c.CorrelationID }

type DeleteProfile struct {
	CorrelationID id.CorrelationID
	ProfileID     id.ProfileID
	CredentialID  id.CredentialID
}

func (DeleteProfile) CommandType() string             { return CmdDeleteProfile }
func (c DeleteProfile) Correlation() id.CorrelationID { return c.CorrelationID }
