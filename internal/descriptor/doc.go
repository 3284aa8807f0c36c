// Package descriptor queries and edits the live XML description of one
// hypervisor domain.
//
// A Descriptor fetches the description on first use and keeps the parsed
// form until InvalidateCache is called. Accessors never re-fetch on their
// own; callers that need fresh facts after a lifecycle operation invalidate
// explicitly.
//
// Element presence is decided by whether the element exists in the fetched
// text. An empty element such as <source/> is present; whether it names a
// medium is a separate question answered by its attributes.
//
// Mutations (SetRemovableMedia, EjectRemovableMedia) change only the cached
// representation. Persisting them is a separate step:
//
//	desc := descriptor.New(dom)
//	if err := desc.SetRemovableMedia(ctx, "iso", "debian.iso"); err != nil {
//	    return err
//	}
//	device, err := desc.RemovableMediaDeviceXML(ctx)
//	if err != nil {
//	    return err
//	}
//	return dom.UpdateDevice(ctx, device)
package descriptor
