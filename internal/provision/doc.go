// Package provision turns VirtualMachine records into hypervisor domains.
//
// A Template knows how to provision one kind of VM. Templates are looked up
// by name in a Registry; adding a new kind of VM means registering a new
// Template, never changing the dispatch code:
//
//	reg := provision.NewRegistry()
//	reg.Register(provision.DefaultTemplate, provision.NewBaseTemplate(renderer, params))
//
//	tmpl, err := reg.Lookup(vm.Template)
//	if err != nil {
//	    return err
//	}
//	return tmpl.Provision(ctx, vm, conn)
//
// The built-in base template renders descriptor text with a Renderer,
// validates it with libvirtxml before any hypervisor call, embeds the VM
// record as domain metadata, defines the domain and creates the primary
// volume.
//
// A domain that was defined successfully is left in place when the volume
// step fails. The VM stays unprovisioned, and the next provision attempt
// redefines the domain over it.
package provision
