package models

type StaffIdentity struct {
	Success        bool   `json:"success"`
	StaffID        int64  `json:"staffId"`
	StaffName      string `json:"staffName"`
	Role           string `json:"role"`
	DepartmentID   int64  `json:"departmentId"`
	DepartmentName string `json:"departmentName"`
}

// APIResponse is the acknowledgement returned by staff commands. Skip responses
// also carry the patient's contact details for manual follow-up.
type APIResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	QueueNumber string `json:"queueNumber,omitempty"`
	QueueID     int64  `json:"queueId,omitempty"`
	PatientName string `json:"patientName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}
