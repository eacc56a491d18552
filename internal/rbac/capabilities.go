package rbac

// Capability names referenced from code. The authoritative catalogue is the
// loaded table; these exist so call sites do not repeat string literals.
const (
	CapReadInvoices         = "read_invoices"
	CapCreateInvoices       = "create_invoices"
	CapEditInvoices         = "edit_invoices"
	CapDeleteInvoices       = "delete_invoices"
	CapReadExpenses         = "read_expenses"
	CapCreateExpenses       = "create_expenses"
	CapEditExpenses         = "edit_expenses"
	CapDeleteExpenses       = "delete_expenses"
	CapReadPayroll          = "read_payroll"
	CapManagePayroll        = "manage_payroll"
	CapReadBankStatements   = "read_bank_statements"
	CapManageBankStatements = "manage_bank_statements"
	CapManageVAT            = "manage_vat"
	CapViewReports          = "view_reports"
	CapExportData           = "export_data"
	CapManageUsers          = "manage_users"
	CapManageSettings       = "manage_settings"
	CapDeleteCompany        = "delete_company"
)
