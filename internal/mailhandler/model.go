package mailhandler

type CreateSubmissionReq struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html"`
}

type CreateSubmissionResp struct {
	SessionID        string   `json:"session_id"`
	FailedRecipients []string `json:"failed_recipients"`
}
