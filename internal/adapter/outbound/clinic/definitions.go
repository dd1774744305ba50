package clinic

import "github.com/clinicore/actiongate/internal/domain/tool"

var getPatientSummaryDef = tool.Definition{
	ID:            ToolGetPatientSummary,
	Name:          "Get patient summary",
	Description:   "Patient contact details with upcoming appointments, devices and open invoices.",
	Category:      tool.CategoryRead,
	RiskLevel:     tool.RiskLevelLow,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "patient_id", Type: tool.ParamTypeString, Required: true},
	},
	Returns:             "object",
	RequiresPermissions: []string{"patients:read"},
}

var scheduleAppointmentDef = tool.Definition{
	ID:            ToolScheduleAppointment,
	Name:          "Schedule appointment",
	Description:   "Books a slot for a patient. The slot must be free.",
	Category:      tool.CategoryConfig,
	RiskLevel:     tool.RiskLevelMedium,
	SchemaVersion: "1.1.0",
	Parameters: []tool.ParamSpec{
		{Name: "appointment_id", Type: tool.ParamTypeString, Description: "Caller-chosen id so a rollback can reference it"},
		{Name: "patient_id", Type: tool.ParamTypeString, Required: true},
		{Name: "starts_at", Type: tool.ParamTypeString, Required: true, Description: "RFC 3339"},
		{Name: "duration_minutes", Type: tool.ParamTypeInteger, Default: 30},
		{Name: "notes", Type: tool.ParamTypeString},
	},
	Returns:             "object",
	RequiresPermissions: []string{"appointments:write"},
}

var cancelAppointmentDef = tool.Definition{
	ID:            ToolCancelAppointment,
	Name:          "Cancel appointment",
	Description:   "Cancels a scheduled appointment.",
	Category:      tool.CategoryConfig,
	RiskLevel:     tool.RiskLevelMedium,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "appointment_id", Type: tool.ParamTypeString, Required: true},
		{Name: "reason", Type: tool.ParamTypeString},
	},
	Returns:             "object",
	RequiresPermissions: []string{"appointments:write"},
}

var updateDeviceStatusDef = tool.Definition{
	ID:            ToolUpdateDeviceStatus,
	Name:          "Update device status",
	Description:   "Sets the lifecycle status of a fitted device and reports the previous one.",
	Category:      tool.CategoryConfig,
	RiskLevel:     tool.RiskLevelHigh,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "device_id", Type: tool.ParamTypeString, Required: true},
		{Name: "status", Type: tool.ParamTypeString, Required: true, Enum: []any{"active", "repair", "retired", "lost"}},
	},
	Returns:             "object",
	RequiresApproval:    true,
	RequiresPermissions: []string{"devices:write"},
}

var voidInvoiceDef = tool.Definition{
	ID:            ToolVoidInvoice,
	Name:          "Void invoice",
	Description:   "Voids an issued, unpaid invoice. Irreversible.",
	Category:      tool.CategoryAdmin,
	RiskLevel:     tool.RiskLevelCritical,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "invoice_id", Type: tool.ParamTypeString, Required: true},
		{Name: "reason", Type: tool.ParamTypeString, Required: true},
	},
	Returns:             "object",
	RequiresApproval:    true,
	RequiresPermissions: []string{"invoices:void"},
}

var sendAppointmentReminderDef = tool.Definition{
	ID:            ToolSendAppointmentReminder,
	Name:          "Send appointment reminder",
	Description:   "Sends an SMS or email reminder for a scheduled appointment.",
	Category:      tool.CategoryNotification,
	RiskLevel:     tool.RiskLevelMedium,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "appointment_id", Type: tool.ParamTypeString, Required: true},
		{Name: "channel", Type: tool.ParamTypeString, Default: "sms", Enum: []any{"sms", "email"}},
	},
	Returns:             "object",
	NonTransactional:    true,
	RequiresPermissions: []string{"patients:contact"},
}

var generateSalesReportDef = tool.Definition{
	ID:            ToolGenerateSalesReport,
	Name:          "Generate sales report",
	Description:   "Totals sales between two dates, grouped by item or day.",
	Category:      tool.CategoryReport,
	RiskLevel:     tool.RiskLevelLow,
	SchemaVersion: "1.0.0",
	Parameters: []tool.ParamSpec{
		{Name: "from", Type: tool.ParamTypeString, Required: true, Description: "YYYY-MM-DD, inclusive"},
		{Name: "to", Type: tool.ParamTypeString, Required: true, Description: "YYYY-MM-DD, inclusive"},
		{Name: "group_by", Type: tool.ParamTypeString, Default: "item", Enum: []any{"item", "day"}},
	},
	Returns:             "object",
	RequiresPermissions: []string{"reports:read"},
}
