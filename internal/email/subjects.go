package email

const (
	subjectStageAdvanced     = "Oportunidad avanzada de etapa"
	subjectActionRejected    = "Acción rechazada en el pipeline"
	subjectSignatureReminder = "Recordatorio: firma y pago pendientes"
)
