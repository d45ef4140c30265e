package intercom

import "encoding/json"

// envelope is the JSON shape of every device API response:
// {"success": bool, "result": {...}} or {"success": false, "error": {...}}.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiErrorBody   `json:"error"`
}

type apiErrorBody struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// snapshotErrorBody is the JSON body returned by the camera endpoint when
// it cannot serve an image.
type snapshotErrorBody struct {
	Error apiErrorBody `json:"error"`
}
