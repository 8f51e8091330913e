package devirt

import (
	"fmt"

	"github.com/apex/log"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/dotnet"
)

// Report summarises a pipeline run.
type Report struct {
	RuntimeType   *dotnet.TypeDef
	Setup         *dotnet.MethodDef
	StaticBuilder *dotnet.MethodDef
	Builder       *dotnet.MethodDef

	Static  *Result
	Dynamic *Result
}

// Sections returns the sections emptied by the dynamic pass.
func (r *Report) Sections() []*dotnet.Section {
	if r.Dynamic == nil {
		return nil
	}
	return r.Dynamic.Sections
}

// Run restores every static and dynamic stub of m. notify, when non-nil,
// is called as each landmark is found.
func Run(m Module, notify func(Landmark, cil.Token)) (*Report, error) {
	if notify == nil {
		notify = func(Landmark, cil.Token) {}
	}
	rep := &Report{}

	setup, err := FindSetup(m)
	if err != nil {
		return nil, err
	}
	rep.Setup = setup
	rep.RuntimeType = setup.DeclaringType
	if rep.RuntimeType == nil {
		return nil, fmt.Errorf("setup method %s has no declaring type: %w", setup.MDToken(), ErrLandmarkNotFound)
	}
	notify(RuntimeClass, rep.RuntimeType.MDToken())
	notify(SetupMethod, setup.MDToken())

	fields, err := Evaluate(setup)
	if err != nil {
		return nil, err
	}

	if rep.StaticBuilder, err = FindStaticBuilder(rep.RuntimeType); err != nil {
		return nil, err
	}
	notify(StaticBuilderMethod, rep.StaticBuilder.MDToken())
	if rep.Static, err = NewStaticBuilder(m, fields).Restore(FindStubs(m, rep.StaticBuilder)); err != nil {
		return nil, fmt.Errorf("static builder: %w", err)
	}

	if rep.Builder, err = FindBuilder(rep.RuntimeType); err != nil {
		return nil, err
	}
	notify(BuilderMethod, rep.Builder.MDToken())
	if rep.Dynamic, err = NewDynamicBuilder(m).Restore(FindStubs(m, rep.Builder)); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	log.WithFields(log.Fields{
		"static":  rep.Static.Restored,
		"dynamic": rep.Dynamic.Restored,
		"skipped": rep.Static.Skipped + rep.Dynamic.Skipped,
	}).Info("restored stubs")
	return rep, nil
}
