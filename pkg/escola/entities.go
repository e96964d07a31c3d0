package escola

import (
	"escola-client/pkg/cache"
	"escola-client/pkg/policy"
	"escola-client/pkg/resource"
)

// Backend service prefixes.
const (
	StudentManagement  = "/api/student-management"
	AcademicManagement = "/api/academic-management"
	Geography          = "/api/geography"
)

// Entity names, used as cache namespaces and policy entries.
const (
	EntityAlunos         = "alunos"
	EntityTurmas         = "turmas"
	EntityTransferencias = "transferencias"
	EntityAnosLectivos   = "anos-lectivos"
	EntityProveniencias  = "proveniencias"
	EntityClasses        = "classes"
	EntityCursos         = "cursos"
	EntityLocalidades    = "localidades"
)

// Nested collections of a turma.
const (
	SubAlunos    = "alunos"
	SubDevedores = "devedores"
)

// Status transitions of a transfer.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Entities lists every entity name.
var Entities = []string{
	EntityAlunos,
	EntityTurmas,
	EntityTransferencias,
	EntityAnosLectivos,
	EntityProveniencias,
	EntityClasses,
	EntityCursos,
	EntityLocalidades,
}

func messages(singular string) resource.Messages {
	return resource.Messages{
		Create: "Erro ao criar " + singular,
		Update: "Erro ao actualizar " + singular,
		Delete: "Erro ao eliminar " + singular,
		Status: "Erro ao alterar o estado de " + singular,
	}
}

// Configs returns the resource configuration of every entity.
func Configs() map[string]resource.Config {
	return map[string]resource.Config{
		EntityAlunos: {
			Name:     EntityAlunos,
			Path:     StudentManagement + "/alunos",
			Messages: messages("aluno"),
		},
		EntityTransferencias: {
			Name:     EntityTransferencias,
			Path:     StudentManagement + "/transferencias",
			Messages: messages("transferência"),
		},
		EntityProveniencias: {
			Name:     EntityProveniencias,
			Path:     StudentManagement + "/proveniencias",
			Messages: messages("proveniência"),
		},
		EntityTurmas: {
			Name:     EntityTurmas,
			Path:     AcademicManagement + "/turmas",
			Messages: messages("turma"),
		},
		EntityAnosLectivos: {
			Name:     EntityAnosLectivos,
			Path:     AcademicManagement + "/anos-lectivos",
			Messages: messages("ano lectivo"),
		},
		EntityClasses: {
			Name:     EntityClasses,
			Path:     AcademicManagement + "/classes",
			Messages: messages("classe"),
		},
		EntityCursos: {
			Name:     EntityCursos,
			Path:     AcademicManagement + "/cursos",
			Messages: messages("curso"),
		},
		EntityLocalidades: {
			Name:     EntityLocalidades,
			Path:     Geography + "/localidades",
			Messages: messages("localidade"),
		},
	}
}

// DefaultPolicy returns the invalidation rules of the school backend.
// Beyond each entity's own list groups, it covers the lists that embed
// another entity's fields:
//
//   - a transfer moves a student, so student lists and turma rosters change
//   - a student change shows up in turma rosters and debtor lists
//   - turma, ano lectivo, classe and curso names are shown in turma and student rows
func DefaultPolicy() policy.Policy {
	p := policy.New(Entities...)

	rosters := []cache.Key{
		cache.Prefix(EntityTurmas, SubAlunos),
		cache.Prefix(EntityTurmas, SubDevedores),
	}
	studentLists := []cache.Key{
		cache.Prefix(EntityAlunos, cache.ScopeList),
		cache.Prefix(EntityAlunos, cache.ScopeComplete),
	}
	turmaLists := []cache.Key{
		cache.Prefix(EntityTurmas, cache.ScopeList),
		cache.Prefix(EntityTurmas, cache.ScopeComplete),
	}

	p.Add(EntityTransferencias, append(append([]cache.Key{}, studentLists...), rosters...))
	p.Add(EntityAlunos, rosters)
	p.Add(EntityAlunos, turmaLists, policy.KindCreate, policy.KindDelete)
	p.Add(EntityTurmas, studentLists, policy.KindUpdate, policy.KindDelete)
	p.Add(EntityAnosLectivos, turmaLists, policy.KindUpdate, policy.KindDelete)
	p.Add(EntityClasses, turmaLists, policy.KindUpdate, policy.KindDelete)
	p.Add(EntityCursos, turmaLists, policy.KindUpdate, policy.KindDelete)
	p.Add(EntityProveniencias, studentLists, policy.KindUpdate, policy.KindDelete)

	return p
}
