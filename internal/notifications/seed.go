package notifications

import (
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// defaultRules returns the rule set seeded for a clinic on first use.
// Copy is Portuguese to match the product surface.
func defaultRules(clinicID uuid.UUID) []models.NotificationRule {
	return []models.NotificationRule{
		{
			ClinicID:        clinicID,
			SourceModule:    enums.ModulePatients,
			TargetModules:   pq.StringArray{string(enums.ModuleAppointments), string(enums.ModuleNotifications)},
			TriggerEvent:    enums.EventPatientCreated,
			TitleTemplate:   "Novo Paciente Cadastrado",
			MessageTemplate: "O paciente {{patientName}} foi cadastrado e está disponível para agendamento.",
			Priority:        enums.NotificationPriorityMedium,
			RecipientRoles:  pq.StringArray{string(enums.RoleReceptionist)},
			IsActive:        true,
		},
		{
			ClinicID:        clinicID,
			SourceModule:    enums.ModuleAppointments,
			TargetModules:   pq.StringArray{string(enums.ModulePatients), string(enums.ModuleExercises), string(enums.ModuleNotifications)},
			TriggerEvent:    enums.EventAppointmentCompleted,
			TitleTemplate:   "Sessão Concluída",
			MessageTemplate: "A sessão do paciente {{patientName}} foi concluída. Avalie a prescrição de exercícios.",
			Priority:        enums.NotificationPriorityMedium,
			RecipientRoles:  pq.StringArray{string(enums.RolePhysiotherapist)},
			IsActive:        true,
		},
		{
			ClinicID:        clinicID,
			SourceModule:    enums.ModuleBilling,
			TargetModules:   pq.StringArray{string(enums.ModuleNotifications)},
			TriggerEvent:    enums.EventPaymentOverdue,
			TitleTemplate:   "Pagamento em Atraso",
			MessageTemplate: "A assinatura da clínica está com pagamento em atraso. Regularize para manter o acesso.",
			Priority:        enums.NotificationPriorityUrgent,
			RecipientRoles:  pq.StringArray{string(enums.RoleAdmin)},
			RequiresAck:     true,
			IsActive:        true,
		},
		{
			ClinicID:        clinicID,
			SourceModule:    enums.ModuleExercises,
			TargetModules:   pq.StringArray{string(enums.ModulePatients), string(enums.ModuleNotifications)},
			TriggerEvent:    enums.EventExercisePrescribed,
			TitleTemplate:   "Exercícios Prescritos",
			MessageTemplate: "Novos exercícios foram prescritos para o paciente {{patientName}}.",
			Priority:        enums.NotificationPriorityLow,
			RecipientRoles:  pq.StringArray{string(enums.RolePhysiotherapist), string(enums.RoleReceptionist)},
			IsActive:        true,
		},
	}
}
